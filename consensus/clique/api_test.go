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
	"reflect"
	"testing"

	"github.com/bgravenorst/pantheon/chaindb/leveldb"
	"github.com/bgravenorst/pantheon/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*API, *testerAccountPool, *testerChain) {
	ap := newTesterAccountPool()
	config := &params.CliqueConfig{Period: 1, Epoch: 30000}
	genesis := genesisHeader(t, ap, []string{"A", "B"})
	chain := newTesterChain(config, genesis)

	engine := New(config, leveldb.NewMemory())
	engine.fakeDiff = true
	for _, header := range buildHeaders(t, ap, genesis, []testerVote{
		{signer: "A", voted: "C", auth: true},
		{signer: "B", voted: "C", auth: true},
		{signer: "C"},
		{signer: "A"},
	}) {
		require.NoError(t, engine.VerifyHeader(chain, header))
		chain.insert(header)
	}
	apis := engine.APIs(chain)
	require.Len(t, apis, 1)
	assert.Equal(t, "clique", apis[0].Namespace)

	return apis[0].Service.(*API), ap, chain
}

func TestAPISigners(t *testing.T) {
	api, ap, chain := newTestAPI(t)

	signers, err := api.GetSigners(nil)
	require.NoError(t, err)
	assert.Equal(t, ap.checkpoint([]string{"A", "B", "C"}), signers)

	latest := rpc.LatestBlockNumber
	signers, err = api.GetSigners(&latest)
	require.NoError(t, err)
	assert.Equal(t, ap.checkpoint([]string{"A", "B", "C"}), signers)

	first := rpc.BlockNumber(1)
	signers, err = api.GetSigners(&first)
	require.NoError(t, err)
	assert.Equal(t, ap.checkpoint([]string{"A", "B"}), signers)

	signers, err = api.GetSignersAtHash(chain.GetHeaderByNumber(2).Hash())
	require.NoError(t, err)
	assert.Equal(t, ap.checkpoint([]string{"A", "B", "C"}), signers)

	missing := rpc.BlockNumber(100)
	_, err = api.GetSigners(&missing)
	assert.Equal(t, errUnknownBlock, err)

	_, err = api.GetSignersAtHash(common.HexToHash("0xdead"))
	assert.Equal(t, errUnknownBlock, err)
}

func TestAPISnapshot(t *testing.T) {
	api, _, chain := newTestAPI(t)

	snap, err := api.GetSnapshot(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), snap.Number)
	assert.Equal(t, chain.CurrentHeader().Hash(), snap.Hash)

	atHash, err := api.GetSnapshotAtHash(chain.GetHeaderByNumber(1).Hash())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), atHash.Number)
	assert.Len(t, atHash.Tally.Ballots(), 1)

	_, err = api.GetSnapshotAtHash(common.HexToHash("0xdead"))
	assert.Equal(t, errUnknownBlock, err)
}

func TestAPIProposals(t *testing.T) {
	api, ap, _ := newTestAPI(t)

	require.NoError(t, api.Propose(ap.address("D"), true))
	require.NoError(t, api.Propose(ap.address("B"), false))
	assert.True(t, reflect.DeepEqual(map[common.Address]bool{
		ap.address("D"): true,
		ap.address("B"): false,
	}, api.Proposals()))

	require.NoError(t, api.Discard(ap.address("D")))
	assert.Equal(t, map[common.Address]bool{ap.address("B"): false}, api.Proposals())
}

func TestAPIStatus(t *testing.T) {
	api, ap, _ := newTestAPI(t)

	status, err := api.Status()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), status.NumBlocks)
	assert.Equal(t, float64(100), status.InturnPercent)
	assert.Equal(t, map[common.Address]int{
		ap.address("A"): 2,
		ap.address("B"): 1,
		ap.address("C"): 1,
	}, status.SigningStatus)
}
