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
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func cliqueExtra(validators int, seal []byte) []byte {
	extra := filled(0x11, 32)
	for i := 0; i < validators; i++ {
		extra = append(extra, filled(byte(0xa0+i), common.AddressLength)...)
	}
	return append(extra, seal...)
}

func ibftExtra(validators int, seal []byte, commits int) []byte {
	list := make([]common.Address, validators)
	for i := range list {
		list[i] = common.BytesToAddress(filled(byte(0xa0+i), common.AddressLength))
	}
	seals := make([][]byte, commits)
	for i := range seals {
		seals[i] = filled(byte(0xc0+i), 65)
	}
	return ibftRaw(list, seal, seals)
}

func ibftRaw(items ...interface{}) []byte {
	payload, err := rlp.EncodeToBytes(items)
	if err != nil {
		panic(err)
	}
	return append(filled(0x11, 32), payload...)
}

func TestExtraDataRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		variant Variant
		extra   []byte
	}{
		{"clique/bare", CliqueVariant, cliqueExtra(0, filled(0, 65))},
		{"clique/validators", CliqueVariant, cliqueExtra(3, filled(0, 65))},
		{"clique/sealed", CliqueVariant, cliqueExtra(0, filled(0x5e, 65))},
		{"clique/checkpoint-sealed", CliqueVariant, cliqueExtra(4, filled(0x5e, 65))},
		{"ibft/bare", IbftVariant, ibftExtra(0, nil, 0)},
		{"ibft/validators", IbftVariant, ibftExtra(4, nil, 0)},
		{"ibft/sealed", IbftVariant, ibftExtra(4, filled(0x5e, 65), 0)},
		{"ibft/committed", IbftVariant, ibftExtra(4, filled(0x5e, 65), 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.variant.Decode(tt.extra)
			require.NoError(t, err)
			out, err := tt.variant.Encode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.extra, out)
		})
	}
}

func TestExtraDataDecodeFields(t *testing.T) {
	data, err := IbftVariant.Decode(ibftExtra(2, filled(0x5e, 65), 1))
	require.NoError(t, err)

	assert.Equal(t, filled(0x11, 32), data.Vanity)
	assert.Equal(t, []common.Address{
		common.BytesToAddress(filled(0xa0, 20)),
		common.BytesToAddress(filled(0xa1, 20)),
	}, data.Validators)
	assert.Equal(t, filled(0x5e, 65), data.ProposerSeal)
	assert.Equal(t, [][]byte{filled(0xc0, 65)}, data.CommitSeals)

	data, err = IbftVariant.Decode(ibftExtra(1, filled(0, 65), 0))
	require.NoError(t, err)
	assert.Nil(t, data.ProposerSeal, "zero seal should decode as unsealed")
	assert.Nil(t, data.CommitSeals)

	data, err = CliqueVariant.Decode(cliqueExtra(1, filled(0, 65)))
	require.NoError(t, err)
	assert.Nil(t, data.ProposerSeal, "zero seal slot should decode as unsealed")
	assert.Len(t, data.Validators, 1)
}

func TestExtraDataDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		variant Variant
		extra   []byte
	}{
		{"clique/empty", CliqueVariant, nil},
		{"clique/short-vanity", CliqueVariant, filled(0, 31)},
		{"clique/missing-seal", CliqueVariant, filled(0, 32+64)},
		{"clique/partial-validator", CliqueVariant, append(filled(0, 32+7), filled(0, 65)...)},
		{"ibft/short-vanity", IbftVariant, filled(0, 20)},
		{"ibft/missing-payload", IbftVariant, filled(0, 32)},
		{"ibft/payload-not-list", IbftVariant, append(filled(0, 32), 0x80)},
		{"ibft/short-validator", IbftVariant, ibftRaw([][]byte{filled(0xa0, 19)}, []byte{}, [][]byte{})},
		{"ibft/short-seal", IbftVariant, ibftExtra(1, filled(0x5e, 30), 0)},
		{"ibft/short-commit-seal", IbftVariant, ibftRaw([]common.Address{}, filled(0x5e, 65), [][]byte{filled(0xc0, 60)})},
		{"ibft/extra-field", IbftVariant, ibftRaw([]common.Address{}, []byte{}, [][]byte{}, uint64(1))},
		{"ibft/trailing-bytes", IbftVariant, append(ibftExtra(1, filled(0x5e, 65), 1), 0x01)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.variant.Decode(tt.extra)
			if !errors.Is(err, ErrMalformedExtraData) {
				t.Fatalf("error mismatch: have %v, want %v", err, ErrMalformedExtraData)
			}
		})
	}
}

func TestExtraDataEncodeRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name    string
		variant Variant
		data    *ExtraData
	}{
		{"short-vanity", CliqueVariant, &ExtraData{Vanity: filled(0, 31)}},
		{"short-seal", CliqueVariant, &ExtraData{Vanity: filled(0, 32), ProposerSeal: filled(1, 64)}},
		{"clique-commit-seals", CliqueVariant, &ExtraData{Vanity: filled(0, 32), CommitSeals: [][]byte{filled(1, 65)}}},
		{"short-commit-seal", IbftVariant, &ExtraData{Vanity: filled(0, 32), CommitSeals: [][]byte{filled(1, 60)}}},
		{"short-ibft-seal", IbftVariant, &ExtraData{Vanity: filled(0, 32), ProposerSeal: filled(1, 64)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.variant.Encode(tt.data); !errors.Is(err, ErrMalformedExtraData) {
				t.Fatalf("error mismatch: have %v, want %v", err, ErrMalformedExtraData)
			}
		})
	}
}

func TestNewExtraDataFixesVanityWidth(t *testing.T) {
	validators := []common.Address{validator1, validator2}

	short := CliqueVariant.NewExtraData([]byte("pantheon"), validators)
	assert.Len(t, short.Vanity, 32)
	assert.Equal(t, []byte("pantheon"), short.Vanity[:8])

	long := CliqueVariant.NewExtraData(filled(0x42, 40), validators)
	assert.Equal(t, filled(0x42, 32), long.Vanity)

	extra, err := CliqueVariant.Encode(short)
	require.NoError(t, err)
	assert.Len(t, extra, 32+2*common.AddressLength+65)

	validators[0] = validator5
	assert.Equal(t, validator1, short.Validators[0], "validator list should be copied")
}

func TestWithoutProposerSeal(t *testing.T) {
	for _, variant := range []Variant{CliqueVariant, IbftVariant} {
		t.Run(variant.Name, func(t *testing.T) {
			data := variant.NewExtraData(nil, []common.Address{validator1})
			unsealed, err := variant.Encode(data)
			require.NoError(t, err)

			data.ProposerSeal = filled(0x5e, 65)
			if variant.CommitSeals {
				data.CommitSeals = [][]byte{filled(0xc0, 65), filled(0xc1, 65)}
			}
			stripped, err := variant.WithoutProposerSeal(data)
			require.NoError(t, err)
			assert.Equal(t, unsealed, stripped, "stripped extra-data should equal the unsealed encoding")

			input, err := variant.sealInput(data)
			require.NoError(t, err)
			if variant.CommitSeals {
				assert.Equal(t, unsealed, input)
			} else {
				assert.Equal(t, unsealed[:len(unsealed)-65], input)
			}
		})
	}
}

func TestIbftExtraDataEncoding(t *testing.T) {
	validator := common.BytesToAddress(filled(0x11, common.AddressLength))
	vanity := strings.Repeat("00", 32)

	tests := []struct {
		name string
		data *ExtraData
		want string
	}{
		{
			name: "unsealed",
			data: &ExtraData{Vanity: filled(0, 32), Validators: []common.Address{validator}},
			want: vanity + "d8" + "d594" + strings.Repeat("11", 20) + "80" + "c0",
		},
		{
			name: "committed",
			data: &ExtraData{
				Vanity:       filled(0, 32),
				Validators:   []common.Address{validator},
				ProposerSeal: filled(0x22, 65),
				CommitSeals:  [][]byte{filled(0x33, 65)},
			},
			want: vanity + "f89e" + "d594" + strings.Repeat("11", 20) +
				"b841" + strings.Repeat("22", 65) +
				"f843" + "b841" + strings.Repeat("33", 65),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extra, err := IbftVariant.Encode(tt.data)
			require.NoError(t, err)
			assert.Equal(t, common.FromHex(tt.want), extra)

			decoded, err := IbftVariant.Decode(common.FromHex(tt.want))
			require.NoError(t, err)
			assert.Equal(t, tt.data, decoded)
		})
	}
}
