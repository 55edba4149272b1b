// mrtchat - peer-to-peer chat substrate
// Copyright (C) 2025 sage-x-project
//
// This file is part of mrtchat.
//
// mrtchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// mrtchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with mrtchat. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/mrtchat/config"
)

var (
	configFile string
	preset     string
)

var rootCmd = &cobra.Command{
	Use:   "mrtchat",
	Short: "mrtchat - browser-style peer-to-peer chat substrate",
	Long: `mrtchat runs a peer-to-peer chat node: rendezvous over a pub/sub
broker, direct peer transports for data and media, and cryptographic
peer authentication with a configurable trust policy.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&preset, "preset", "p", "", "Configuration preset (default, performance, privacy, development, production)")

	// Commands are registered in their respective files:
	// - serve.go: serveCmd
	// - keygen.go: keygenCmd
	// - whoami.go: whoamiCmd
}

// loadConfig resolves the --config file (or defaults) and applies the
// --preset on top.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configFile, err)
		}
	} else {
		cfg = config.Default()
	}
	if preset != "" {
		config.ApplyPreset(cfg, preset)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
