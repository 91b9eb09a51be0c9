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

// Package poa implements the proof-of-authority primitives shared by the
// authority engines: the validator vote tally, the local vote proposer, the
// header extra-data codec and the proposer seal.
package poa

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// validatorsAscending implements the sort interface to allow sorting a list of addresses.
type validatorsAscending []common.Address

func (s validatorsAscending) Len() int           { return len(s) }
func (s validatorsAscending) Less(i, j int) bool { return bytes.Compare(s[i][:], s[j][:]) < 0 }
func (s validatorsAscending) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// VoteTally folds the ballots carried by successive block headers into the
// current validator set. A subject is added or dropped as soon as a majority of
// the current validators agree on it.
//
// Ballots must be applied in canonical block order; the outcome depends on it.
// All methods are safe for concurrent use.
type VoteTally struct {
	validators []common.Address // Authorized validators, ascending by address
	ballots    []Vote           // Outstanding ballots, one per (proposer, subject)

	lock sync.RWMutex
}

// NewVoteTally creates a tally seeded with the given validators. Duplicates are
// dropped and the set is kept in ascending address order.
func NewVoteTally(validators []common.Address) *VoteTally {
	seen := mapset.NewThreadUnsafeSet()
	set := make([]common.Address, 0, len(validators))
	for _, v := range validators {
		if seen.Add(v) {
			set = append(set, v)
		}
	}
	sort.Sort(validatorsAscending(set))
	return &VoteTally{validators: set}
}

// RestoreVoteTally recreates a tally from a validator set and the ballots that were
// outstanding when it was captured.
func RestoreVoteTally(validators []common.Address, ballots []Vote) *VoteTally {
	tally := NewVoteTally(validators)
	tally.ballots = append([]Vote(nil), ballots...)
	return tally
}

// AddVote records a ballot of proposer about subject and, if the ballot completes
// a majority, settles the question. It reports whether the validator set changed.
//
// Ballots of proposers outside the current validator set are ignored. A proposer
// voting again on the same subject replaces its previous ballot.
func (t *VoteTally) AddVote(proposer, subject common.Address, kind VoteType) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.isValidator(proposer) {
		votesIgnoredMeter.Mark(1)
		log.Trace("Ignoring vote from non-validator", "proposer", proposer, "subject", subject, "kind", kind)
		return false
	}
	votesAppliedMeter.Mark(1)

	replaced := false
	for i := range t.ballots {
		if t.ballots[i].Proposer == proposer && t.ballots[i].Subject == subject {
			t.ballots[i].Kind = kind
			replaced = true
			break
		}
	}
	if !replaced {
		t.ballots = append(t.ballots, Vote{Proposer: proposer, Subject: subject, Kind: kind})
	}
	if t.count(subject, kind) < len(t.validators)/2+1 {
		return false
	}
	// The question is settled, apply it and start any later campaign afresh
	changed := false
	switch kind {
	case VoteAdd:
		if !t.isValidator(subject) {
			t.insert(subject)
			changed = true
			validatorAddedCounter.Inc(1)
			log.Info("Validator added", "address", subject, "validators", len(t.validators))
		}
	case VoteDrop:
		if t.isValidator(subject) {
			t.remove(subject)
			t.discardProposer(subject)
			changed = true
			validatorDroppedCounter.Inc(1)
			log.Info("Validator dropped", "address", subject, "validators", len(t.validators))
		}
	}
	t.discardSubject(subject)
	return changed
}

// DiscardOutstandingVotes drops every recorded ballot, leaving the validator set
// untouched.
func (t *VoteTally) DiscardOutstandingVotes() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.ballots = nil
}

// CurrentValidators returns the authorized validators in ascending order.
func (t *VoteTally) CurrentValidators() []common.Address {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return append([]common.Address(nil), t.validators...)
}

// IsValidator reports whether address is currently authorized.
func (t *VoteTally) IsValidator(address common.Address) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.isValidator(address)
}

// ValidatorCount returns the size of the current validator set.
func (t *VoteTally) ValidatorCount() int {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return len(t.validators)
}

// IndexOf returns the position of address in the ascending validator list, or -1.
func (t *VoteTally) IndexOf(address common.Address) int {
	t.lock.RLock()
	defer t.lock.RUnlock()

	i := t.search(address)
	if i < len(t.validators) && t.validators[i] == address {
		return i
	}
	return -1
}

// HasBallot reports whether proposer has an outstanding ballot of the given kind
// about subject.
func (t *VoteTally) HasBallot(proposer, subject common.Address, kind VoteType) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	for _, b := range t.ballots {
		if b.Proposer == proposer && b.Subject == subject {
			return b.Kind == kind
		}
	}
	return false
}

// Ballots returns the outstanding ballots, including those of proposers that have
// since been dropped.
func (t *VoteTally) Ballots() []Vote {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return append([]Vote(nil), t.ballots...)
}

// Copy creates an independent copy of the tally.
func (t *VoteTally) Copy() *VoteTally {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return &VoteTally{
		validators: append([]common.Address(nil), t.validators...),
		ballots:    append([]Vote(nil), t.ballots...),
	}
}

type tallyJSON struct {
	Validators []common.Address `json:"validators"`
	Votes      []Vote           `json:"votes"`
}

// MarshalJSON implements json.Marshaler.
func (t *VoteTally) MarshalJSON() ([]byte, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return json.Marshal(&tallyJSON{Validators: t.validators, Votes: t.ballots})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *VoteTally) UnmarshalJSON(input []byte) error {
	var dec tallyJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	restored := RestoreVoteTally(dec.Validators, dec.Votes)

	t.lock.Lock()
	defer t.lock.Unlock()

	t.validators, t.ballots = restored.validators, restored.ballots
	return nil
}

// count returns the number of current validators with a ballot of the given kind
// about subject.
func (t *VoteTally) count(subject common.Address, kind VoteType) int {
	votes := 0
	for _, b := range t.ballots {
		if b.Subject == subject && b.Kind == kind && t.isValidator(b.Proposer) {
			votes++
		}
	}
	return votes
}

func (t *VoteTally) discardSubject(subject common.Address) {
	kept := t.ballots[:0]
	for _, b := range t.ballots {
		if b.Subject != subject {
			kept = append(kept, b)
		}
	}
	t.ballots = kept
}

// discardProposer drops every ballot cast by proposer, so that a validator voted
// back in later starts without its earlier ballots.
func (t *VoteTally) discardProposer(proposer common.Address) {
	kept := t.ballots[:0]
	for _, b := range t.ballots {
		if b.Proposer != proposer {
			kept = append(kept, b)
		}
	}
	t.ballots = kept
}

func (t *VoteTally) search(address common.Address) int {
	return sort.Search(len(t.validators), func(i int) bool {
		return bytes.Compare(t.validators[i][:], address[:]) >= 0
	})
}

func (t *VoteTally) isValidator(address common.Address) bool {
	i := t.search(address)
	return i < len(t.validators) && t.validators[i] == address
}

func (t *VoteTally) insert(address common.Address) {
	i := t.search(address)
	t.validators = append(t.validators, common.Address{})
	copy(t.validators[i+1:], t.validators[i:])
	t.validators[i] = address
}

func (t *VoteTally) remove(address common.Address) {
	i := t.search(address)
	t.validators = append(t.validators[:i], t.validators[i+1:]...)
}
