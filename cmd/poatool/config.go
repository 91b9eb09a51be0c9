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
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/bgravenorst/pantheon/consensus/poa"
	"github.com/bgravenorst/pantheon/params"
	"github.com/ethereum/go-ethereum/log"
	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"
)

var dumpConfigCommand = cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Show configuration values",
	ArgsUsage:   "[file]",
	Category:    "MISCELLANEOUS COMMANDS",
	Description: `The dumpconfig command shows configuration values.`,
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type poatoolConfig struct {
	Clique  params.CliqueConfig
	Variant string
	DataDir string `toml:",omitempty"`
}

var defaultConfig = poatoolConfig{
	Clique:  params.CliqueConfig{Period: 15, Epoch: 30000},
	Variant: poa.CliqueVariant.Name,
}

var variants = map[string]poa.Variant{
	poa.CliqueVariant.Name: poa.CliqueVariant,
	poa.IbftVariant.Name:   poa.IbftVariant,
}

func loadConfig(file string, cfg *poatoolConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the configuration file, if any, and applies flags on top.
func makeConfig(ctx *cli.Context) (poatoolConfig, error) {
	cfg := defaultConfig

	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.GlobalIsSet(variantFlag.Name) {
		cfg.Variant = ctx.GlobalString(variantFlag.Name)
	}
	if ctx.GlobalIsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.GlobalString(dataDirFlag.Name)
	}
	if _, ok := variants[cfg.Variant]; !ok {
		return cfg, fmt.Errorf("unknown variant %q", cfg.Variant)
	}
	log.Debug("Loaded configuration", "clique", &cfg.Clique, "variant", cfg.Variant)
	return cfg, nil
}

// variant resolves the configured extra-data layout.
func (cfg *poatoolConfig) variant() poa.Variant {
	return variants[cfg.Variant]
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	dump := ctx.App.Writer
	if ctx.NArg() > 0 {
		f, err := os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		dump = f
	}
	_, err = dump.Write(out)
	return err
}
