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
	"encoding/json"
	"log/slog"
	"os"

	"github.com/blinklabs-io/attest/internal/node"
	"github.com/spf13/cobra"
)

func statusCommand() *cobra.Command {
	var from uint64
	var recent int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored committee state",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := configFromCommand(cmd)
			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			status, err := node.LoadStatus(cfg, logger, from, recent)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(status); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first finished task ID to list")
	cmd.Flags().IntVar(&recent, "finished", 10, "number of finished tasks to list")
	return cmd
}
