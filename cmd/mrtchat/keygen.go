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

	"github.com/sage-x-project/mrtchat/identity"
)

var (
	keygenOutput     string
	keygenPublicOnly bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an identity key pair",
	Long: `Generate a fresh RSA-PSS identity key pair and print it in JWK form.

The private JWK is what a node persists under its key-value store; the
public JWK is what peers learn through the identify flow.`,
	Example: `  # Print a new private JWK to stdout
  mrtchat keygen

  # Write only the public half to a file
  mrtchat keygen --public --output identity.pub.jwk`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVarP(&keygenOutput, "output", "o", "", "Output file (default: stdout)")
	keygenCmd.Flags().BoolVar(&keygenPublicOnly, "public", false, "Export only the public half")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}

	jwk := kp.ExportJWK()
	if keygenPublicOnly {
		jwk = kp.ExportPublicJWK()
	}
	out, err := identity.MarshalJWK(jwk)
	if err != nil {
		return fmt.Errorf("encode JWK: %w", err)
	}

	if keygenOutput == "" {
		fmt.Println(out)
		return nil
	}
	return os.WriteFile(keygenOutput, []byte(out+"\n"), 0o600)
}
