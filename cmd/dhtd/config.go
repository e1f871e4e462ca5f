// Copyright 2025 The dhtrpc Authors
// This file is part of dhtd.
//
// dhtd is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// dhtd is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with dhtd. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
)

// config is the file/flag configuration of dhtd. Command-line flags
// override values from the TOML file.
type config struct {
	Addr        string   `toml:"addr"`
	Bootstrap   []string `toml:"bootstrap"`
	Ephemeral   bool     `toml:"ephemeral"`
	Verbosity   int      `toml:"verbosity"`
	MetricsAddr string   `toml:"metrics_addr"`
}

func loadConfig(ctx *cli.Context) (config, error) {
	cfg := config{
		Addr:      addrFlag.Value,
		Verbosity: verbosityFlag.Value,
	}
	if file := ctx.String(configFlag.Name); file != "" {
		f, err := os.Open(file)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("%s: %v", file, err)
		}
	}
	if ctx.IsSet(addrFlag.Name) {
		cfg.Addr = ctx.String(addrFlag.Name)
	}
	if ctx.IsSet(bootstrapFlag.Name) {
		cfg.Bootstrap = ctx.StringSlice(bootstrapFlag.Name)
	}
	if ctx.IsSet(ephemeralFlag.Name) {
		cfg.Ephemeral = ctx.Bool(ephemeralFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Verbosity = ctx.Int(verbosityFlag.Name)
	}
	if ctx.IsSet(metricsAddrFlag.Name) {
		cfg.MetricsAddr = ctx.String(metricsAddrFlag.Name)
	}
	return cfg, nil
}
