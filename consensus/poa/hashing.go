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

package poa

import (
	"bytes"
	"io"

	"github.com/bgravenorst/pantheon/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

// SealHash returns the digest a proposer signs: the keccak256 hash of the
// header's consensus fields with extra replacing the header's own extra-data.
// The caller supplies extra with the proposer seal already stripped.
func SealHash(header *types.Header, extra []byte) (hash common.Hash) {
	hasher := sha3.NewLegacyKeccak256()
	encodeSigHeader(hasher, header, extra)
	hasher.(crypto.KeccakState).Read(hash[:])
	return hash
}

// SealRLP returns the rlp bytes which need to be signed for proof-of-authority
// sealing, the pre-image of SealHash.
func SealRLP(header *types.Header, extra []byte) []byte {
	b := new(bytes.Buffer)
	encodeSigHeader(b, header, extra)
	return b.Bytes()
}

func encodeSigHeader(w io.Writer, header *types.Header, extra []byte) {
	enc := []interface{}{
		header.ParentHash,
		header.UncleHash,
		header.Coinbase,
		header.Root,
		header.TxHash,
		header.ReceiptHash,
		header.Bloom,
		header.Difficulty,
		header.Number,
		header.GasLimit,
		header.GasUsed,
		header.Time,
		extra,
		header.MixDigest,
		header.Nonce,
	}
	if err := rlp.Encode(w, enc); err != nil {
		panic("can't encode: " + err.Error())
	}
}
