// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/blinklabs-io/attest/internal/sops"
	"github.com/spf13/cobra"
)

func configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage config files",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "encrypt <file>",
			Short: "Encrypt a config file with sops using the SOPS_* key settings",
			Args:  cobra.ExactArgs(1),
			// The config being encrypted isn't loaded
			PersistentPreRunE: skipConfig,
			RunE: func(cmd *cobra.Command, args []string) error {
				buf, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				out, err := sops.Encrypt(buf, sops.FormatYAML)
				if err != nil {
					return fmt.Errorf("encrypt %s: %w", args[0], err)
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
		&cobra.Command{
			Use:               "decrypt <file>",
			Short:             "Print the plaintext of a sops encrypted config file",
			Args:              cobra.ExactArgs(1),
			PersistentPreRunE: skipConfig,
			RunE: func(cmd *cobra.Command, args []string) error {
				buf, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if !sops.IsEncrypted(buf) {
					return fmt.Errorf("%s is not encrypted", args[0])
				}
				out, err := sops.Decrypt(buf, sops.FormatYAML)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
	)
	return cmd
}
