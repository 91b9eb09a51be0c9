// Copyright 2024 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

package clique

import (
	"encoding/json"
	"time"

	"github.com/bgravenorst/pantheon/chaindb"
	"github.com/bgravenorst/pantheon/consensus/poa"
	"github.com/bgravenorst/pantheon/core/types"
	"github.com/bgravenorst/pantheon/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/golang/snappy"
)

// Snapshot is the state of the authorization voting at a given point in time.
type Snapshot struct {
	config *params.CliqueConfig // Consensus engine parameters to fine tune behavior
	sealer *poa.Sealer          // Seal recovery with its cache of recent block signatures

	Number  uint64                    `json:"number"`  // Block number where the snapshot was created
	Hash    common.Hash               `json:"hash"`    // Block hash where the snapshot was created
	Tally   *poa.VoteTally            `json:"tally"`   // Authorized validators and outstanding ballots
	Recents map[uint64]common.Address `json:"recents"` // Set of recent proposers for spam protections
}

// newSnapshot creates a new snapshot with the specified startup parameters. This
// method does not initialize the set of recent proposers, so only ever use it for
// the genesis block or trusted checkpoints.
func newSnapshot(config *params.CliqueConfig, sealer *poa.Sealer, number uint64, hash common.Hash, validators []common.Address) *Snapshot {
	return &Snapshot{
		config:  config,
		sealer:  sealer,
		Number:  number,
		Hash:    hash,
		Tally:   poa.NewVoteTally(validators),
		Recents: make(map[uint64]common.Address),
	}
}

func snapshotKey(hash common.Hash) []byte {
	return append([]byte("clique-"), hash[:]...)
}

// loadSnapshot loads an existing snapshot from the database.
func loadSnapshot(config *params.CliqueConfig, sealer *poa.Sealer, db chaindb.KeyValueReader, hash common.Hash) (*Snapshot, error) {
	compressed, err := db.Get(snapshotKey(hash))
	if err != nil {
		return nil, err
	}
	blob, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, err
	}
	snap := new(Snapshot)
	if err := json.Unmarshal(blob, snap); err != nil {
		return nil, err
	}
	if snap.Tally == nil {
		snap.Tally = poa.NewVoteTally(nil)
	}
	if snap.Recents == nil {
		snap.Recents = make(map[uint64]common.Address)
	}
	snap.config = config
	snap.sealer = sealer
	return snap, nil
}

// store inserts the snapshot into the database.
func (s *Snapshot) store(db chaindb.KeyValueWriter) error {
	blob, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return db.Put(snapshotKey(s.Hash), snappy.Encode(nil, blob))
}

// copy creates a deep copy of the snapshot.
func (s *Snapshot) copy() *Snapshot {
	cpy := &Snapshot{
		config:  s.config,
		sealer:  s.sealer,
		Number:  s.Number,
		Hash:    s.Hash,
		Tally:   s.Tally.Copy(),
		Recents: make(map[uint64]common.Address),
	}
	for block, proposer := range s.Recents {
		cpy.Recents[block] = proposer
	}
	return cpy
}

// validVote returns whether it makes sense to cast the specified vote in the
// given snapshot context (e.g. don't try to add an already authorized validator).
func (s *Snapshot) validVote(address common.Address, kind poa.VoteType) bool {
	return kind.Authorize() != s.Tally.IsValidator(address)
}

// recentlySigned reports whether proposer sealed one of the last floor(N/2)+1
// blocks before number, which forbids it from sealing number.
func (s *Snapshot) recentlySigned(number uint64, proposer common.Address) bool {
	for seen, recent := range s.Recents {
		if recent == proposer {
			// Proposer is among recents, only fail if the current block doesn't shift it out
			if limit := uint64(s.Tally.ValidatorCount()/2 + 1); number < limit || seen > number-limit {
				return true
			}
		}
	}
	return false
}

// apply creates a new authorization snapshot by applying the given headers to
// the original one. Every header must already have passed verification.
func (s *Snapshot) apply(headers []*types.Header) (*Snapshot, error) {
	// Allow passing in no headers for cleaner code
	if len(headers) == 0 {
		return s, nil
	}
	// Sanity check that the headers can be applied
	for i := 0; i < len(headers)-1; i++ {
		if headers[i+1].Number.Uint64() != headers[i].Number.Uint64()+1 {
			return nil, errInvalidVotingChain
		}
	}
	if headers[0].Number.Uint64() != s.Number+1 {
		return nil, errInvalidVotingChain
	}
	// Iterate through the headers and create a new snapshot
	snap := s.copy()

	var (
		start  = time.Now()
		logged = time.Now()
	)
	for i, header := range headers {
		// Remove any votes on checkpoint blocks
		number := header.Number.Uint64()
		if number%s.config.Epoch == 0 {
			snap.Tally.DiscardOutstandingVotes()
		}
		// Delete the oldest proposer from the recent list to allow it signing again
		if limit := uint64(snap.Tally.ValidatorCount()/2 + 1); number >= limit {
			delete(snap.Recents, number-limit)
		}
		// Resolve the authorization key and check against validators
		proposer, err := s.sealer.RecoverProposer(header)
		if err != nil {
			return nil, err
		}
		if !snap.Tally.IsValidator(proposer) {
			return nil, poa.ErrUnauthorizedProposer
		}
		if snap.recentlySigned(number, proposer) {
			return nil, errRecentlySigned
		}
		snap.Recents[number] = proposer

		// Tally up the vote carried by the header
		vote, err := poa.VoteFromHeader(proposer, header)
		if err != nil {
			return nil, err
		}
		if vote != nil && snap.Tally.AddVote(vote.Proposer, vote.Subject, vote.Kind) {
			// Validator set changed, shrink the recent list if it became smaller
			if limit := uint64(snap.Tally.ValidatorCount()/2 + 1); number >= limit {
				delete(snap.Recents, number-limit)
			}
		}
		// If we're taking too much time (ecrecover), notify the user once a while
		if time.Since(logged) > 8*time.Second {
			log.Info("Reconstructing voting history", "processed", i, "total", len(headers), "elapsed", common.PrettyDuration(time.Since(start)))
			logged = time.Now()
		}
	}
	if time.Since(start) > 8*time.Second {
		log.Info("Reconstructed voting history", "processed", len(headers), "elapsed", common.PrettyDuration(time.Since(start)))
	}
	snap.Number += uint64(len(headers))
	snap.Hash = headers[len(headers)-1].Hash()

	return snap, nil
}

// validators retrieves the list of authorized validators in ascending order.
func (s *Snapshot) validators() []common.Address {
	return s.Tally.CurrentValidators()
}

// inturn returns if a validator at a given block height is in-turn or not.
func (s *Snapshot) inturn(number uint64, validator common.Address) bool {
	count := s.Tally.ValidatorCount()
	if count == 0 {
		return false
	}
	offset := s.Tally.IndexOf(validator)
	return offset >= 0 && number%uint64(count) == uint64(offset)
}

// ReadSnapshot retrieves the voting snapshot persisted for the block with the
// given hash. Only checkpoint snapshots (and the genesis one) are persisted.
func ReadSnapshot(config *params.CliqueConfig, db chaindb.KeyValueReader, hash common.Hash) (*Snapshot, error) {
	return loadSnapshot(config, poa.NewSealer(poa.CliqueVariant), db, hash)
}
