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

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/bgravenorst/pantheon/consensus/poa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/urfave/cli.v1"
)

var (
	vanityFlag = cli.StringFlag{
		Name:  "vanity",
		Usage: "Vanity prefix, 0x-prefixed hex or plain text",
	}
	validatorsFlag = cli.StringFlag{
		Name:  "validators",
		Usage: "Comma separated list of validator addresses",
	}

	extraCommand = cli.Command{
		Name:     "extra",
		Usage:    "Build and inspect header extra-data",
		Category: "EXTRA-DATA COMMANDS",
		Subcommands: []cli.Command{
			{
				Name:   "encode",
				Usage:  "Encode unsealed extra-data, e.g. for a genesis block",
				Action: extraEncode,
				Flags:  []cli.Flag{vanityFlag, validatorsFlag},
				Description: `
Encodes the vanity and validator list into extra-data of the configured
variant, with an empty seal slot. The validator list is written in the
given order; genesis and checkpoint blocks expect it sorted ascending.`,
			},
			{
				Name:      "decode",
				Usage:     "Decode extra-data into its sections",
				ArgsUsage: "<hex>",
				Action:    extraDecode,
			},
		},
	}
)

// parseValidators parses a comma separated list of hex addresses.
func parseValidators(list string) ([]common.Address, error) {
	var validators []common.Address
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if !common.IsHexAddress(field) {
			return nil, fmt.Errorf("invalid validator address %q", field)
		}
		validators = append(validators, common.HexToAddress(field))
	}
	return validators, nil
}

// parseVanity interprets a 0x-prefixed value as hex and anything else as text.
func parseVanity(vanity string, variant poa.Variant) ([]byte, error) {
	var (
		blob []byte
		err  error
	)
	if strings.HasPrefix(vanity, "0x") || strings.HasPrefix(vanity, "0X") {
		if blob, err = hexutil.Decode(vanity); err != nil {
			return nil, err
		}
	} else {
		blob = []byte(vanity)
	}
	if len(blob) > variant.VanityLength {
		return nil, fmt.Errorf("vanity of %d bytes exceeds %d", len(blob), variant.VanityLength)
	}
	return blob, nil
}

func extraEncode(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	variant := cfg.variant()

	vanity, err := parseVanity(ctx.String(vanityFlag.Name), variant)
	if err != nil {
		return err
	}
	validators, err := parseValidators(ctx.String(validatorsFlag.Name))
	if err != nil {
		return err
	}
	extra, err := variant.Encode(variant.NewExtraData(vanity, validators))
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, hexutil.Encode(extra))
	return nil
}

func extraDecode(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("need extra-data hex as the only argument")
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	extra, err := hexutil.Decode(ctx.Args().First())
	if err != nil {
		return err
	}
	data, err := cfg.variant().Decode(extra)
	if err != nil {
		return err
	}
	printExtraData(ctx.App.Writer, data)
	return nil
}

func printExtraData(w io.Writer, data *poa.ExtraData) {
	fmt.Fprintf(w, "Vanity:      %s\n", hexutil.Encode(data.Vanity))
	fmt.Fprintf(w, "Validators:  %d\n", len(data.Validators))
	for _, validator := range data.Validators {
		fmt.Fprintf(w, "  %s\n", validator.Hex())
	}
	if data.ProposerSeal == nil {
		fmt.Fprintf(w, "Seal:        none\n")
	} else {
		fmt.Fprintf(w, "Seal:        %s\n", hexutil.Encode(data.ProposerSeal))
	}
	if len(data.CommitSeals) > 0 {
		fmt.Fprintf(w, "CommitSeals: %d\n", len(data.CommitSeals))
		for _, seal := range data.CommitSeals {
			fmt.Fprintf(w, "  %s\n", hexutil.Encode(seal))
		}
	}
}
