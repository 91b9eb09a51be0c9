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
	"fmt"

	"github.com/bgravenorst/pantheon/core/types"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// NonceAuthVote is the magic nonce number to vote on adding a new validator.
	NonceAuthVote = types.BlockNonce{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	// NonceDropVote is the magic nonce number to vote on removing a validator.
	NonceDropVote = types.BlockNonce{}
)

// VoteType is the semantic of a single ballot.
type VoteType uint8

const (
	VoteAdd VoteType = iota
	VoteDrop
)

// Authorize reports whether the vote is about authorizing (as opposed to kicking).
func (t VoteType) Authorize() bool {
	return t == VoteAdd
}

// Nonce returns the header nonce carrying this kind of vote.
func (t VoteType) Nonce() types.BlockNonce {
	if t == VoteAdd {
		return NonceAuthVote
	}
	return NonceDropVote
}

func (t VoteType) String() string {
	switch t {
	case VoteAdd:
		return "add"
	case VoteDrop:
		return "drop"
	default:
		return fmt.Sprintf("VoteType(%d)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t VoteType) MarshalText() ([]byte, error) {
	if t != VoteAdd && t != VoteDrop {
		return nil, fmt.Errorf("invalid vote type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *VoteType) UnmarshalText(input []byte) error {
	switch string(input) {
	case "add":
		*t = VoteAdd
	case "drop":
		*t = VoteDrop
	default:
		return fmt.Errorf("invalid vote type %q", input)
	}
	return nil
}

// Vote represents a single ballot that an authorized validator made to modify the
// list of authorizations.
type Vote struct {
	Proposer common.Address `json:"proposer"` // Validator that cast this vote
	Subject  common.Address `json:"subject"`  // Account being voted on
	Kind     VoteType       `json:"kind"`     // Whether to authorize or deauthorize
}

// VoteFromHeader extracts the vote a header casts on behalf of its proposer. The
// subject is carried in the coinbase and the kind in the nonce. A header with an
// empty coinbase casts no vote, in which case nil is returned and the nonce must
// be zero.
func VoteFromHeader(proposer common.Address, header *types.Header) (*Vote, error) {
	if header.Coinbase == (common.Address{}) {
		if header.Nonce != NonceDropVote {
			return nil, ErrInvalidVote
		}
		return nil, nil
	}
	var kind VoteType
	switch header.Nonce {
	case NonceAuthVote:
		kind = VoteAdd
	case NonceDropVote:
		kind = VoteDrop
	default:
		return nil, ErrInvalidVote
	}
	return &Vote{Proposer: proposer, Subject: header.Coinbase, Kind: kind}, nil
}

// WriteVote embeds the vote into the header fields carrying it. A nil vote clears
// them.
func WriteVote(header *types.Header, vote *Vote) {
	if vote == nil {
		header.Coinbase = common.Address{}
		header.Nonce = NonceDropVote
		return
	}
	header.Coinbase = vote.Subject
	header.Nonce = vote.Kind.Nonce()
}
