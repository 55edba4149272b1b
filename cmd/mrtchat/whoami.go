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

	"github.com/spf13/cobra"

	"github.com/sage-x-project/mrtchat/config"
	"github.com/sage-x-project/mrtchat/signaling"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the derived identity and room topic",
	Long: `Print the name, room, and full broker topic this node would use with
the current configuration, without connecting anywhere.`,
	RunE: runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	room := cfg.Topic.Room
	if room == "" {
		room = config.DeriveRoom("", "")
	}

	name := cfg.Name
	if name == "" {
		name = "(anonymous, assigned on connect)"
	}

	fmt.Printf("name:   %s\n", name)
	fmt.Printf("room:   %s\n", room)
	fmt.Printf("topic:  %s\n", signaling.Topic(cfg.Topic.Base, cfg.Topic.Separator, room))
	fmt.Printf("broker: %s\n", cfg.MQTT.Broker)
	fmt.Printf("trust:  %s\n", cfg.TrustMode)
	return nil
}
