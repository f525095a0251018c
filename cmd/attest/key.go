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
	"strconv"

	"github.com/blinklabs-io/attest"
	"github.com/blinklabs-io/attest/digest"
	"github.com/blinklabs-io/attest/keystore"
	"github.com/blinklabs-io/attest/stake"
	"github.com/blinklabs-io/attest/task"
	"github.com/spf13/cobra"
)

func skipConfig(*cobra.Command, []string) error { return nil }

func keyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "key",
		Short:             "Manage member signing keys",
		PersistentPreRunE: skipConfig,
	}
	var description string
	generate := &cobra.Command{
		Use:   "generate <skey-file> <vkey-file>",
		Short: "Generate a signing key pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keystore.Generate(description)
			if err != nil {
				return err
			}
			if err := key.Save(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key.Public()))
			return nil
		},
	}
	generate.Flags().StringVar(&description, "description", "", "key description")
	cmd.AddCommand(generate)
	return cmd
}

// submissionArgs are the leading arguments of the sign commands
type submissionArgs struct {
	taskID task.ID
	round  uint32
	member stake.AccountID
	reveal task.Reveal
}

func parseSubmissionArgs(args []string, support bool) (submissionArgs, error) {
	taskID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return submissionArgs{}, fmt.Errorf("task ID: %w", err)
	}
	round, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return submissionArgs{}, fmt.Errorf("round: %w", err)
	}
	return submissionArgs{
		taskID: task.ID(taskID),
		round:  uint32(round),
		member: stake.AccountID(args[2]),
		reveal: task.Reveal{
			Core:    []byte(args[3]),
			Payload: []byte(args[4]),
			Nonce:   []byte(args[5]),
			Support: support,
		},
	}, nil
}

func signCommand() *cobra.Command {
	var keyFile string
	var support bool
	cmd := &cobra.Command{
		Use:               "sign",
		Short:             "Sign commitments and reveals with a member key",
		PersistentPreRunE: skipConfig,
	}
	cmd.PersistentFlags().StringVar(&keyFile, "key", "", "signing key file")
	cmd.PersistentFlags().BoolVar(&support, "support", true, "the reveal supports the payload")
	_ = cmd.MarkPersistentFlagRequired("key")
	commitment := &cobra.Command{
		Use:   "commitment <task> <round> <member> <core> <payload> <nonce>",
		Short: "Print the commitment and its signature",
		Args:  cobra.ExactArgs(6),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := parseSubmissionArgs(args, support)
			if err != nil {
				return err
			}
			key, err := keystore.LoadSigningKey(keyFile)
			if err != nil {
				return err
			}
			d := digest.Commitment(sub.reveal.Core, sub.reveal.Payload, sub.reveal.Nonce, sub.reveal.Support)
			msg, err := attest.CommitmentMessage(sub.taskID, sub.round, sub.member, d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", d.String(), hex.EncodeToString(key.Sign(msg)))
			return nil
		},
	}
	reveal := &cobra.Command{
		Use:   "reveal <task> <round> <member> <core> <payload> <nonce>",
		Short: "Print the reveal signature",
		Args:  cobra.ExactArgs(6),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := parseSubmissionArgs(args, support)
			if err != nil {
				return err
			}
			key, err := keystore.LoadSigningKey(keyFile)
			if err != nil {
				return err
			}
			msg, err := attest.RevealMessage(sub.taskID, sub.round, sub.member, sub.reveal)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key.Sign(msg)))
			return nil
		},
	}
	cmd.AddCommand(commitment, reveal)
	return cmd
}
