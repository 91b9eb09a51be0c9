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
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Variant describes how a proof-of-authority flavour lays out header extra-data.
//
// Clique extra-data is a flat byte layout
//
//	vanity | validators (N*20) | proposer seal
//
// while variants collecting commit seals follow the vanity with an RLP list
//
//	vanity | rlp([validators, proposer seal, [commit seals]])
//
// where an unsealed header carries an empty proposer seal string.
type Variant struct {
	Name         string
	VanityLength int  // Fixed number of extra-data prefix bytes reserved for vanity
	SealLength   int  // Fixed number of bytes of every seal
	CommitSeals  bool // Whether the RLP payload with commit seals follows the vanity
}

var (
	// CliqueVariant is the clique extra-data layout.
	CliqueVariant = Variant{
		Name:         "clique",
		VanityLength: 32,
		SealLength:   crypto.SignatureLength,
	}

	// IbftVariant is the layout of round based variants that collect commit seals.
	IbftVariant = Variant{
		Name:         "ibft",
		VanityLength: 32,
		SealLength:   crypto.SignatureLength,
		CommitSeals:  true,
	}
)

// ExtraData is the decoded content of a header's extra-data field.
type ExtraData struct {
	Vanity       []byte
	Validators   []common.Address
	ProposerSeal []byte   // nil until the header is sealed
	CommitSeals  [][]byte // only for variants carrying commit seals
}

// ibftPayload is the RLP list following the vanity of commit seal variants.
type ibftPayload struct {
	Validators   []common.Address
	ProposerSeal []byte
	CommitSeals  [][]byte
}

// NewExtraData assembles unsealed extra-data, right-padding or truncating the
// vanity to the variant's fixed width.
func (v Variant) NewExtraData(vanity []byte, validators []common.Address) *ExtraData {
	fixed := make([]byte, v.VanityLength)
	copy(fixed, vanity)
	return &ExtraData{
		Vanity:     fixed,
		Validators: append([]common.Address(nil), validators...),
	}
}

// Decode parses extra-data bytes. An empty or all-zero proposer seal decodes as
// a missing seal.
func (v Variant) Decode(extra []byte) (*ExtraData, error) {
	if len(extra) < v.VanityLength {
		return nil, fmt.Errorf("%w: %d byte vanity prefix missing", ErrMalformedExtraData, v.VanityLength)
	}
	if v.CommitSeals {
		return v.decodePayload(extra)
	}
	rest := extra[v.VanityLength:]
	if len(rest) < v.SealLength {
		return nil, fmt.Errorf("%w: %d byte seal suffix missing", ErrMalformedExtraData, v.SealLength)
	}
	list, seal := rest[:len(rest)-v.SealLength], rest[len(rest)-v.SealLength:]
	if len(list)%common.AddressLength != 0 {
		return nil, fmt.Errorf("%w: validator list of %d bytes", ErrMalformedExtraData, len(list))
	}
	data := &ExtraData{
		Vanity:     common.CopyBytes(extra[:v.VanityLength]),
		Validators: make([]common.Address, len(list)/common.AddressLength),
	}
	for i := range data.Validators {
		copy(data.Validators[i][:], list[i*common.AddressLength:])
	}
	if !isZero(seal) {
		data.ProposerSeal = common.CopyBytes(seal)
	}
	return data, nil
}

func (v Variant) decodePayload(extra []byte) (*ExtraData, error) {
	var payload ibftPayload
	if err := rlp.DecodeBytes(extra[v.VanityLength:], &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraData, err)
	}
	data := &ExtraData{
		Vanity:     common.CopyBytes(extra[:v.VanityLength]),
		Validators: append(make([]common.Address, 0, len(payload.Validators)), payload.Validators...),
	}
	if len(payload.ProposerSeal) > 0 {
		if len(payload.ProposerSeal) != v.SealLength {
			return nil, fmt.Errorf("%w: proposer seal of %d bytes", ErrMalformedExtraData, len(payload.ProposerSeal))
		}
		if !isZero(payload.ProposerSeal) {
			data.ProposerSeal = payload.ProposerSeal
		}
	}
	for _, seal := range payload.CommitSeals {
		if len(seal) != v.SealLength {
			return nil, fmt.Errorf("%w: commit seal of %d bytes", ErrMalformedExtraData, len(seal))
		}
		data.CommitSeals = append(data.CommitSeals, seal)
	}
	return data, nil
}

// Encode serializes extra-data. It is the inverse of Decode for every input
// Decode accepts, apart from zero-filled seals which re-encode as missing.
func (v Variant) Encode(data *ExtraData) ([]byte, error) {
	if len(data.Vanity) != v.VanityLength {
		return nil, fmt.Errorf("%w: vanity of %d bytes, want %d", ErrMalformedExtraData, len(data.Vanity), v.VanityLength)
	}
	if data.ProposerSeal != nil && len(data.ProposerSeal) != v.SealLength {
		return nil, fmt.Errorf("%w: proposer seal of %d bytes, want %d", ErrMalformedExtraData, len(data.ProposerSeal), v.SealLength)
	}
	if !v.CommitSeals && len(data.CommitSeals) > 0 {
		return nil, fmt.Errorf("%w: %s extra-data carries no commit seals", ErrMalformedExtraData, v.Name)
	}
	for _, seal := range data.CommitSeals {
		if len(seal) != v.SealLength {
			return nil, fmt.Errorf("%w: commit seal of %d bytes, want %d", ErrMalformedExtraData, len(seal), v.SealLength)
		}
	}
	if v.CommitSeals {
		payload, err := rlp.EncodeToBytes(&ibftPayload{
			Validators:   data.Validators,
			ProposerSeal: data.ProposerSeal,
			CommitSeals:  data.CommitSeals,
		})
		if err != nil {
			return nil, err
		}
		return append(common.CopyBytes(data.Vanity), payload...), nil
	}
	out := make([]byte, 0, v.VanityLength+len(data.Validators)*common.AddressLength+v.SealLength)
	out = append(out, data.Vanity...)
	for _, validator := range data.Validators {
		out = append(out, validator[:]...)
	}
	if data.ProposerSeal != nil {
		out = append(out, data.ProposerSeal...)
	} else {
		out = append(out, make([]byte, v.SealLength)...)
	}
	return out, nil
}

// WithoutProposerSeal re-encodes the extra-data with the proposer seal and the
// commit seals removed. The result is the same whether or not the header has
// been sealed yet.
func (v Variant) WithoutProposerSeal(data *ExtraData) ([]byte, error) {
	return v.Encode(&ExtraData{
		Vanity:     data.Vanity,
		Validators: data.Validators,
	})
}

// sealInput returns the extra-data bytes covered by the proposer seal.
func (v Variant) sealInput(data *ExtraData) ([]byte, error) {
	extra, err := v.WithoutProposerSeal(data)
	if err != nil {
		return nil, err
	}
	if v.CommitSeals {
		return extra, nil
	}
	// Clique signs the extra-data with the zero-filled seal slot trimmed
	return extra[:len(extra)-v.SealLength], nil
}

func isZero(b []byte) bool {
	return len(bytes.TrimLeft(b, "\x00")) == 0
}
