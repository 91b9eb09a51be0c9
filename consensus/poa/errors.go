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

import "errors"

// Errors returned while sealing or verifying headers. A header failing with any of
// these is permanently invalid and must be rejected by the import pipeline.
var (
	// ErrMalformedExtraData is returned if a header's extra-data does not follow the
	// layout of the active variant (vanity prefix missing, validator list not a
	// multiple of the address width, seal segment of the wrong width).
	ErrMalformedExtraData = errors.New("malformed extra-data")

	// ErrMissingSeal is returned if the proposer seal slot of a header is empty.
	ErrMissingSeal = errors.New("extra-data proposer seal missing")

	// ErrInvalidSignature is returned if the proposer seal cannot be resolved to
	// any address.
	ErrInvalidSignature = errors.New("invalid proposer seal")

	// ErrUnauthorizedProposer is returned if a header is sealed by an address that
	// is not part of the current validator set.
	ErrUnauthorizedProposer = errors.New("unauthorized proposer")

	// ErrInvalidVote is returned if a header's nonce is something else than the two
	// allowed constants of 0x00..0 or 0xff..f.
	ErrInvalidVote = errors.New("vote nonce not 0x00..0 or 0xff..f")
)
