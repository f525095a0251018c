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
	"encoding/hex"
	"fmt"

	"github.com/blinklabs-io/attest/digest"
	"github.com/spf13/cobra"
)

func commitmentCommand() *cobra.Command {
	var hexInput bool
	var support bool
	cmd := &cobra.Command{
		Use:               "commitment <core> <payload> <nonce>",
		Short:             "Compute the commitment digest for a reveal",
		Args:              cobra.ExactArgs(3),
		PersistentPreRunE: skipConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			parts := make([][]byte, len(args))
			for i, arg := range args {
				if !hexInput {
					parts[i] = []byte(arg)
					continue
				}
				tmp, err := hex.DecodeString(arg)
				if err != nil {
					return fmt.Errorf("argument %d: %w", i+1, err)
				}
				parts[i] = tmp
			}
			d := digest.Commitment(parts[0], parts[1], parts[2], support)
			fmt.Fprintln(cmd.OutOrStdout(), d.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&hexInput, "hex", false, "arguments are hex encoded")
	cmd.Flags().BoolVar(&support, "support", true, "the reveal supports the payload")
	return cmd
}
