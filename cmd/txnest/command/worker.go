// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/txnest/txnest/pkg/adapter/proc"
	"github.com/txnest/txnest/pkg/core/log"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the auxiliary worker process body",
	Long: `Run the auxiliary worker process body. The worker talks to
its controlling process with newline-delimited JSON messages over the
standard input and output streams: it announces itself with a hello
message, answers hello probes with good-day, and exits on a shutdown
message or when its input stream is closed. This command is normally
not invoked by hand; the controlling process launches it.`,
	RunE: worker,
}

func worker(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	h := proc.HandlerFunc(func(
		ctx context.Context, m proc.Message,
	) (*proc.Message, error) {
		// Logs go to stderr; stdout carries the message channel.
		log.Warn(
			ctx, "dropping message of unknown type",
			slog.String("type", m.Type),
		)
		return nil, nil
	})
	return proc.Serve(ctx, os.Stdin, os.Stdout, h)
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
