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
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/bgravenorst/pantheon/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
)

const inmemorySignatures = 4096 // Number of recent block signatures to keep in memory

// SignFn signs the seal pre-image returned by SealRLP, hashing it first.
type SignFn func(sealRLP []byte) ([]byte, error)

// KeySignFn returns a SignFn backed by a local private key.
func KeySignFn(key *ecdsa.PrivateKey) SignFn {
	return func(sealRLP []byte) ([]byte, error) {
		return crypto.Sign(crypto.Keccak256(sealRLP), key)
	}
}

// Sealer produces and verifies proposer seals for one extra-data variant. It holds
// no state besides a cache of recovered signers, so it may be used concurrently.
type Sealer struct {
	variant    Variant
	signatures *lru.ARCCache // Signatures of recent blocks to speed up verification
}

// NewSealer creates a sealer for the given variant.
func NewSealer(variant Variant) *Sealer {
	signatures, _ := lru.NewARC(inmemorySignatures)
	return &Sealer{variant: variant, signatures: signatures}
}

// Variant returns the extra-data variant the sealer works with.
func (s *Sealer) Variant() Variant {
	return s.variant
}

// SealHash returns the digest the proposer of header signs.
func (s *Sealer) SealHash(header *types.Header) (common.Hash, error) {
	data, err := s.variant.Decode(header.Extra)
	if err != nil {
		return common.Hash{}, err
	}
	extra, err := s.variant.sealInput(data)
	if err != nil {
		return common.Hash{}, err
	}
	return SealHash(header, extra), nil
}

// SealHeader signs header with key and returns a copy carrying the seal in its
// extra-data. The input header is left untouched.
func (s *Sealer) SealHeader(header *types.Header, key *ecdsa.PrivateKey) (*types.Header, error) {
	return s.SealHeaderWith(header, KeySignFn(key))
}

// SealHeaderWith is like SealHeader but delegates signing to sign.
func (s *Sealer) SealHeaderWith(header *types.Header, sign SignFn) (*types.Header, error) {
	data, err := s.variant.Decode(header.Extra)
	if err != nil {
		return nil, err
	}
	extra, err := s.variant.sealInput(data)
	if err != nil {
		return nil, err
	}
	seal, err := sign(SealRLP(header, extra))
	if err != nil {
		return nil, err
	}
	if len(seal) != s.variant.SealLength {
		return nil, fmt.Errorf("signer returned %d byte seal, want %d", len(seal), s.variant.SealLength)
	}
	data.ProposerSeal = seal
	sealed := types.CopyHeader(header)
	if sealed.Extra, err = s.variant.Encode(data); err != nil {
		return nil, err
	}
	return sealed, nil
}

// RecoverProposer extracts the address that sealed header. It does not check that
// the address is an authorized validator.
func (s *Sealer) RecoverProposer(header *types.Header) (common.Address, error) {
	// If the signature's already cached, return that
	hash := header.Hash()
	if address, known := s.signatures.Get(hash); known {
		sealCacheHitMeter.Mark(1)
		return address.(common.Address), nil
	}
	sealRecoverMeter.Mark(1)

	data, err := s.variant.Decode(header.Extra)
	if err != nil {
		return common.Address{}, err
	}
	if data.ProposerSeal == nil {
		return common.Address{}, ErrMissingSeal
	}
	extra, err := s.variant.sealInput(data)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := recoverAddress(SealHash(header, extra), data.ProposerSeal)
	if err != nil {
		return common.Address{}, err
	}
	s.signatures.Add(hash, signer)
	return signer, nil
}

// recoverAddress recovers the signer of digest from a [R || S || V] signature.
func recoverAddress(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: %d byte signature", ErrInvalidSignature, len(sig))
	}
	r, s := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], r, s, false) {
		return common.Address{}, fmt.Errorf("%w: signature values out of range", ErrInvalidSignature)
	}
	pubkey, err := crypto.Ecrecover(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var signer common.Address
	copy(signer[:], crypto.Keccak256(pubkey[1:])[12:])
	return signer, nil
}
