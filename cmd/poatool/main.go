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

// poatool is an offline utility for proof-of-authority extra-data and seals.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/urfave/cli.v1"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	variantFlag = cli.StringFlag{
		Name:  "variant",
		Usage: "Extra-data layout (clique or ibft)",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory of the LevelDB store holding voting snapshots",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
)

var app = newApp()

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "poatool"
	app.Usage = "proof-of-authority extra-data and seal utility"
	app.Flags = []cli.Flag{
		configFileFlag,
		variantFlag,
		dataDirFlag,
		verbosityFlag,
	}
	app.Commands = []cli.Command{
		extraCommand,
		sealCommand,
		recoverCommand,
		snapshotCommand,
		dumpConfigCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		setupLogging(os.Stderr, ctx.GlobalInt(verbosityFlag.Name))
		return nil
	}
	return app
}

func setupLogging(w io.Writer, verbosity int) {
	glogger := log.NewGlogHandler(log.NewTerminalHandler(w, false))
	glogger.Verbosity(log.FromLegacyLevel(verbosity))
	log.SetDefault(log.NewLogger(glogger))
}

// Fatalf formats a message to standard error and exits the program.
func Fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		Fatalf("%v", err)
	}
}
