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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bgravenorst/pantheon/chaindb/leveldb"
	"github.com/bgravenorst/pantheon/consensus/clique"
	"github.com/bgravenorst/pantheon/consensus/poa"
	"github.com/bgravenorst/pantheon/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/urfave/cli.v1"
)

var (
	keyFileFlag = cli.StringFlag{
		Name:  "key",
		Usage: "File holding the hex encoded secp256k1 private key to seal with",
	}

	sealCommand = cli.Command{
		Name:      "seal",
		Usage:     "Seal a JSON encoded header",
		ArgsUsage: "<header.json>",
		Category:  "SEALING COMMANDS",
		Action:    sealHeader,
		Flags:     []cli.Flag{keyFileFlag},
		Description: `
Signs the header with the given key and prints the sealed header as JSON. The
header's extra-data must already hold the vanity and validator sections.`,
	}
	recoverCommand = cli.Command{
		Name:      "recover",
		Usage:     "Recover the proposer of a sealed JSON encoded header",
		ArgsUsage: "<header.json>",
		Category:  "SEALING COMMANDS",
		Action:    recoverProposer,
	}
	snapshotCommand = cli.Command{
		Name:      "snapshot",
		Usage:     "Print the voting snapshot persisted for a block",
		ArgsUsage: "<hash>",
		Category:  "SEALING COMMANDS",
		Action:    printSnapshot,
	}
)

func readHeader(file string) (*types.Header, error) {
	blob, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	header := new(types.Header)
	if err := json.Unmarshal(blob, header); err != nil {
		return nil, fmt.Errorf("%s: %v", file, err)
	}
	return header, nil
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func sealHeader(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("need header file as the only argument")
	}
	if !ctx.IsSet(keyFileFlag.Name) {
		return fmt.Errorf("missing --%s", keyFileFlag.Name)
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	key, err := crypto.LoadECDSA(ctx.String(keyFileFlag.Name))
	if err != nil {
		return err
	}
	header, err := readHeader(ctx.Args().First())
	if err != nil {
		return err
	}
	sealer := poa.NewSealer(cfg.variant())
	sealed, err := sealer.SealHeader(header, key)
	if err != nil {
		return err
	}
	sealhash, _ := sealer.SealHash(sealed)
	log.Info("Sealed header", "number", sealed.Number, "sealhash", sealhash, "signer", crypto.PubkeyToAddress(key.PublicKey))
	return printJSON(ctx.App.Writer, sealed)
}

func recoverProposer(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("need header file as the only argument")
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	header, err := readHeader(ctx.Args().First())
	if err != nil {
		return err
	}
	proposer, err := poa.NewSealer(cfg.variant()).RecoverProposer(header)
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, proposer.Hex())
	return nil
}

func printSnapshot(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("need block hash as the only argument")
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("missing --%s", dataDirFlag.Name)
	}
	db, err := leveldb.New(cfg.DataDir, 0, 0, true)
	if err != nil {
		return err
	}
	defer db.Close()

	snap, err := clique.ReadSnapshot(&cfg.Clique, db, common.HexToHash(ctx.Args().First()))
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, snap)
}
