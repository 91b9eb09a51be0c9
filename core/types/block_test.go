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

package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

func TestUncleHash(t *testing.T) {
	uncles := make([]*Header, 0)
	h := CalcUncleHash(uncles)
	exp := common.HexToHash("1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347")
	if h != exp {
		t.Fatalf("empty uncle hash is wrong, got %x != %x", h, exp)
	}
}

func TestEmptyRootHash(t *testing.T) {
	blob, _ := rlp.EncodeToBytes([]byte{})
	if have := crypto.Keccak256Hash(blob); have != EmptyRootHash {
		t.Fatalf("empty root hash is wrong, got %x != %x", have, EmptyRootHash)
	}
}

func testHeader() *Header {
	return &Header{
		ParentHash: common.HexToHash("0x83cafc574e1f51ba9dc0568fc617a08ea2429fb384059c972f13b19fa1c8dd55"),
		UncleHash:  EmptyUncleHash,
		Coinbase:   common.HexToAddress("0x8888f1f195afa192cfee860698584c030f4c9db1"),
		Root:       common.HexToHash("0xef1552a40b7165c3cd773806b9e0c165b75356e0314bf0706f279c729f51e017"),
		TxHash:     EmptyRootHash,
		Difficulty: big.NewInt(131072),
		Number:     big.NewInt(1),
		GasLimit:   3141592,
		GasUsed:    21000,
		Time:       1426516743,
		Extra:      []byte("extra"),
		MixDigest:  common.HexToHash("0xbd4472abb6659ebe3ee06ee4d7b72a00a9f4d001caca51342001075469aff498"),
		Nonce:      EncodeNonce(0xa13a5a8c8f2bb1c4),
	}
}

func TestHeaderRLPRoundTrip(t *testing.T) {
	header := testHeader()
	blob, err := rlp.EncodeToBytes(header)
	if err != nil {
		t.Fatalf("failed to encode header: %v", err)
	}
	var dec Header
	if err := rlp.DecodeBytes(blob, &dec); err != nil {
		t.Fatalf("failed to decode header: %v", err)
	}
	if dec.Hash() != header.Hash() {
		t.Fatalf("hash mismatch: have %x, want %x", dec.Hash(), header.Hash())
	}
	if header.Hash() != crypto.Keccak256Hash(blob) {
		t.Fatal("header hash is not the keccak of its encoding")
	}
}

func TestHeaderJSON(t *testing.T) {
	header := testHeader()
	blob, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("failed to marshal header: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(blob, &fields); err != nil {
		t.Fatalf("failed to inspect header json: %v", err)
	}
	if fields["hash"] != header.Hash().Hex() {
		t.Fatalf("hash field mismatch: have %v, want %s", fields["hash"], header.Hash().Hex())
	}
	if fields["nonce"] != "0xa13a5a8c8f2bb1c4" {
		t.Fatalf("nonce field mismatch: have %v", fields["nonce"])
	}
	var dec Header
	if err := json.Unmarshal(blob, &dec); err != nil {
		t.Fatalf("failed to unmarshal header: %v", err)
	}
	if dec.Hash() != header.Hash() {
		t.Fatalf("hash mismatch: have %x, want %x", dec.Hash(), header.Hash())
	}
	if err := json.Unmarshal([]byte(`{"parentHash":"0x00"}`), &dec); err == nil {
		t.Fatal("header without required fields accepted")
	}
}

func TestCopyHeader(t *testing.T) {
	header := testHeader()
	cpy := CopyHeader(header)

	cpy.Extra[0] = 'X'
	cpy.Number.SetUint64(2)
	cpy.Difficulty.SetUint64(1)

	if string(header.Extra) != "extra" || header.Number.Uint64() != 1 || header.Difficulty.Uint64() != 131072 {
		t.Fatal("copy shares memory with the original header")
	}
}

func TestSanityCheck(t *testing.T) {
	header := testHeader()
	if err := header.SanityCheck(); err != nil {
		t.Fatalf("sane header rejected: %v", err)
	}
	header.Difficulty = new(big.Int).Lsh(big.NewInt(1), 81)
	if err := header.SanityCheck(); err == nil {
		t.Fatal("oversized difficulty accepted")
	}
	header = testHeader()
	header.Extra = make([]byte, 100*1024+1)
	if err := header.SanityCheck(); err == nil {
		t.Fatal("oversized extra-data accepted")
	}
}

func TestBlockNonce(t *testing.T) {
	nonce := EncodeNonce(0xff00ff00ff00ff00)
	if nonce.Uint64() != 0xff00ff00ff00ff00 {
		t.Fatalf("nonce mismatch: have %x", nonce.Uint64())
	}
	text, _ := nonce.MarshalText()
	var dec BlockNonce
	if err := dec.UnmarshalText(text); err != nil || dec != nonce {
		t.Fatalf("nonce text round trip failed: %x, %v", dec, err)
	}
}
