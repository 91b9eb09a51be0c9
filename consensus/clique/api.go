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
	"fmt"

	"github.com/bgravenorst/pantheon/consensus"
	"github.com/bgravenorst/pantheon/consensus/poa"
	"github.com/bgravenorst/pantheon/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// statusBlocks is the number of most recent blocks Status reports on.
const statusBlocks = uint64(64)

// API is a user facing RPC API to allow controlling the validator and voting
// mechanisms of the proof-of-authority scheme.
type API struct {
	chain  consensus.ChainHeaderReader
	clique *Clique
}

// NewAPI creates the query surface of engine over chain.
func NewAPI(chain consensus.ChainHeaderReader, engine *Clique) *API {
	return &API{chain: chain, clique: engine}
}

func (api *API) headerByNumber(number *rpc.BlockNumber) (*types.Header, error) {
	var header *types.Header
	if number == nil || *number == rpc.LatestBlockNumber {
		header = api.chain.CurrentHeader()
	} else {
		header = api.chain.GetHeaderByNumber(uint64(number.Int64()))
	}
	if header == nil {
		return nil, errUnknownBlock
	}
	return header, nil
}

func (api *API) headerByHash(hash common.Hash) (*types.Header, error) {
	header := api.chain.GetHeaderByHash(hash)
	if header == nil {
		return nil, errUnknownBlock
	}
	return header, nil
}

func (api *API) snapshotAt(header *types.Header) (*Snapshot, error) {
	return api.clique.snapshot(api.chain, header.Number.Uint64(), header.Hash(), nil)
}

// GetSnapshot retrieves the state snapshot at a given block.
func (api *API) GetSnapshot(number *rpc.BlockNumber) (*Snapshot, error) {
	header, err := api.headerByNumber(number)
	if err != nil {
		return nil, err
	}
	return api.snapshotAt(header)
}

// GetSnapshotAtHash retrieves the state snapshot at a given block.
func (api *API) GetSnapshotAtHash(hash common.Hash) (*Snapshot, error) {
	header, err := api.headerByHash(hash)
	if err != nil {
		return nil, err
	}
	return api.snapshotAt(header)
}

// GetSigners retrieves the list of authorized signers at the specified block.
func (api *API) GetSigners(number *rpc.BlockNumber) ([]common.Address, error) {
	header, err := api.headerByNumber(number)
	if err != nil {
		return nil, err
	}
	snap, err := api.snapshotAt(header)
	if err != nil {
		return nil, err
	}
	return snap.validators(), nil
}

// GetSignersAtHash retrieves the list of authorized signers at the specified block.
// These are the validators in force after the block was applied, so the ones
// entitled to seal its child.
func (api *API) GetSignersAtHash(hash common.Hash) ([]common.Address, error) {
	header, err := api.headerByHash(hash)
	if err != nil {
		return nil, err
	}
	snap, err := api.snapshotAt(header)
	if err != nil {
		return nil, err
	}
	return snap.validators(), nil
}

// Proposals returns the current proposals the node tries to uphold and vote on.
// Authorizing proposals map to true, kicking ones to false.
func (api *API) Proposals() map[common.Address]bool {
	proposals := make(map[common.Address]bool)
	for address, kind := range api.clique.Proposals() {
		proposals[address] = kind.Authorize()
	}
	return proposals
}

// Propose injects a new authorization proposal that the signer will attempt to
// push through.
func (api *API) Propose(address common.Address, auth bool) error {
	kind := poa.VoteDrop
	if auth {
		kind = poa.VoteAdd
	}
	return api.clique.Propose(address, kind)
}

// Discard drops a currently running proposal, stopping the signer from casting
// further votes (either for or against).
func (api *API) Discard(address common.Address) error {
	return api.clique.Discard(address)
}

type status struct {
	InturnPercent float64                `json:"inturnPercent"`
	SigningStatus map[common.Address]int `json:"sealerActivity"`
	NumBlocks     uint64                 `json:"numBlocks"`
}

// Status returns the status of the last N blocks,
// - the number of active signers,
// - the number of signers,
// - the percentage of in-turn blocks
func (api *API) Status() (*status, error) {
	header := api.chain.CurrentHeader()
	if header == nil {
		return nil, errUnknownBlock
	}
	snap, err := api.snapshotAt(header)
	if err != nil {
		return nil, err
	}
	var (
		end       = header.Number.Uint64()
		numBlocks = statusBlocks
		optimals  = 0
	)
	if numBlocks > end {
		numBlocks = end
	}
	signStatus := make(map[common.Address]int)
	for _, validator := range snap.validators() {
		signStatus[validator] = 0
	}
	for n := end - numBlocks + 1; n <= end && numBlocks > 0; n++ {
		h := api.chain.GetHeaderByNumber(n)
		if h == nil {
			return nil, fmt.Errorf("missing block %d", n)
		}
		if h.Difficulty.Cmp(diffInTurn) == 0 {
			optimals++
		}
		sealer, err := api.clique.Author(h)
		if err != nil {
			return nil, err
		}
		signStatus[sealer]++
	}
	var inturn float64
	if numBlocks > 0 {
		inturn = float64(100*optimals) / float64(numBlocks)
	}
	return &status{
		InturnPercent: inturn,
		SigningStatus: signStatus,
		NumBlocks:     numBlocks,
	}, nil
}
