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
	"errors"
	"math/big"
	"testing"

	"github.com/bgravenorst/pantheon/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

func testHeader(t *testing.T, variant Variant, validators []common.Address) *types.Header {
	t.Helper()
	extra, err := variant.Encode(variant.NewExtraData([]byte("test vanity"), validators))
	if err != nil {
		t.Fatalf("failed to encode extra-data: %v", err)
	}
	return &types.Header{
		ParentHash: common.HexToHash("0x0102030405060708091011121314151617181920212223242526272829303132"),
		UncleHash:  types.EmptyUncleHash,
		Coinbase:   validator5,
		Root:       common.HexToHash("0xaa"),
		TxHash:     types.EmptyRootHash,
		Difficulty: big.NewInt(2),
		Number:     big.NewInt(1337),
		GasLimit:   8000000,
		GasUsed:    21000,
		Time:       1546300800,
		Extra:      extra,
		Nonce:      NonceAuthVote,
	}
}

func TestSealHashMatchesCanonicalEncoding(t *testing.T) {
	header := testHeader(t, CliqueVariant, nil)
	extra := header.Extra[:len(header.Extra)-65]

	blob, err := rlp.EncodeToBytes([]interface{}{
		header.ParentHash, header.UncleHash, header.Coinbase, header.Root,
		header.TxHash, header.ReceiptHash, header.Bloom, header.Difficulty,
		header.Number, header.GasLimit, header.GasUsed, header.Time,
		extra, header.MixDigest, header.Nonce,
	})
	if err != nil {
		t.Fatalf("failed to encode header: %v", err)
	}
	if have, want := SealHash(header, extra), crypto.Keccak256Hash(blob); have != want {
		t.Fatalf("seal hash mismatch: have %x, want %x", have, want)
	}
	if have := SealRLP(header, extra); string(have) != string(blob) {
		t.Fatalf("seal rlp mismatch: have %x, want %x", have, blob)
	}
	sealer := NewSealer(CliqueVariant)
	if have, _ := sealer.SealHash(header); have != crypto.Keccak256Hash(blob) {
		t.Fatalf("sealer hash mismatch: have %x, want %x", have, crypto.Keccak256Hash(blob))
	}
}

func TestSealRoundTrip(t *testing.T) {
	for _, variant := range []Variant{CliqueVariant, IbftVariant} {
		t.Run(variant.Name, func(t *testing.T) {
			key, _ := crypto.GenerateKey()
			signer := crypto.PubkeyToAddress(key.PublicKey)

			sealer := NewSealer(variant)
			header := testHeader(t, variant, []common.Address{validator1, validator2})
			original := common.CopyBytes(header.Extra)

			sealed, err := sealer.SealHeader(header, key)
			if err != nil {
				t.Fatalf("failed to seal header: %v", err)
			}
			if string(header.Extra) != string(original) {
				t.Fatal("sealing modified the input header")
			}
			if !variant.CommitSeals && len(sealed.Extra) != len(header.Extra) {
				t.Fatalf("sealed extra-data width changed: have %d, want %d", len(sealed.Extra), len(header.Extra))
			}
			proposer, err := sealer.RecoverProposer(sealed)
			if err != nil {
				t.Fatalf("failed to recover proposer: %v", err)
			}
			if proposer != signer {
				t.Fatalf("proposer mismatch: have %x, want %x", proposer, signer)
			}
			// Recovery must be reproducible by a fresh sealer without a warm cache
			if proposer, err = NewSealer(variant).RecoverProposer(sealed); err != nil || proposer != signer {
				t.Fatalf("uncached recovery mismatch: have %x (%v), want %x", proposer, err, signer)
			}
			// The seal itself is not part of the signed digest
			before, err := sealer.SealHash(header)
			if err != nil {
				t.Fatalf("failed to hash unsealed header: %v", err)
			}
			after, err := sealer.SealHash(sealed)
			if err != nil {
				t.Fatalf("failed to hash sealed header: %v", err)
			}
			if before != after {
				t.Fatalf("seal hash changed by sealing: %x != %x", before, after)
			}
		})
	}
}

func TestCommitSealsDoNotAffectProposer(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sealer := NewSealer(IbftVariant)

	sealed, err := sealer.SealHeader(testHeader(t, IbftVariant, []common.Address{validator1}), key)
	if err != nil {
		t.Fatalf("failed to seal header: %v", err)
	}
	data, err := IbftVariant.Decode(sealed.Extra)
	if err != nil {
		t.Fatalf("failed to decode sealed extra-data: %v", err)
	}
	commit, err := crypto.Sign(crypto.Keccak256([]byte("commit")), key)
	if err != nil {
		t.Fatalf("failed to sign commit: %v", err)
	}
	data.CommitSeals = [][]byte{commit}

	committed := types.CopyHeader(sealed)
	if committed.Extra, err = IbftVariant.Encode(data); err != nil {
		t.Fatalf("failed to encode committed extra-data: %v", err)
	}
	proposer, err := sealer.RecoverProposer(committed)
	if err != nil {
		t.Fatalf("failed to recover proposer: %v", err)
	}
	if want := crypto.PubkeyToAddress(key.PublicKey); proposer != want {
		t.Fatalf("proposer mismatch: have %x, want %x", proposer, want)
	}
}

func TestRecoverProposerMissingSeal(t *testing.T) {
	sealer := NewSealer(CliqueVariant)
	if _, err := sealer.RecoverProposer(testHeader(t, CliqueVariant, nil)); !errors.Is(err, ErrMissingSeal) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrMissingSeal)
	}
}

func TestRecoverProposerInvalidSignature(t *testing.T) {
	outOfRange := make([]byte, 65)
	outOfRange[63] = 1 // r = 0, s = 1

	tests := map[string][]byte{
		"all-ones":     filled(0xff, 65),
		"zero-r":       outOfRange,
		"bad-recovery": append(filled(0x01, 64), 0x04),
	}
	for name, seal := range tests {
		t.Run(name, func(t *testing.T) {
			header := testHeader(t, CliqueVariant, nil)
			copy(header.Extra[len(header.Extra)-65:], seal)

			_, err := NewSealer(CliqueVariant).RecoverProposer(header)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("error mismatch: have %v, want %v", err, ErrInvalidSignature)
			}
		})
	}
}

func TestRecoverProposerMalformedExtra(t *testing.T) {
	header := testHeader(t, CliqueVariant, nil)
	header.Extra = header.Extra[:40]

	if _, err := NewSealer(CliqueVariant).RecoverProposer(header); !errors.Is(err, ErrMalformedExtraData) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrMalformedExtraData)
	}
}

func TestTamperedHeaderRecoversOtherAddress(t *testing.T) {
	key, _ := crypto.GenerateKey()
	sealer := NewSealer(CliqueVariant)

	sealed, err := sealer.SealHeader(testHeader(t, CliqueVariant, nil), key)
	if err != nil {
		t.Fatalf("failed to seal header: %v", err)
	}
	sealed.GasUsed++

	proposer, err := sealer.RecoverProposer(sealed)
	if err == nil && proposer == crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("tampered header recovered the original signer")
	}
}

func TestSealHeaderWithRejectsShortSeal(t *testing.T) {
	sealer := NewSealer(CliqueVariant)
	short := func([]byte) ([]byte, error) { return make([]byte, 64), nil }

	if _, err := sealer.SealHeaderWith(testHeader(t, CliqueVariant, nil), short); err == nil {
		t.Fatal("short seal accepted")
	}
}
