// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/txnest/txnest/pkg/adapter/config"
	"github.com/txnest/txnest/pkg/adapter/proc"
	"github.com/txnest/txnest/pkg/core/log"
)

var pingTimeout time.Duration

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Launch a worker process and probe its healthiness",
	Long: `Launch a worker process and probe its healthiness. The
worker command line is taken from the configuration file; when it is
not configured, this binary re-executes itself with the worker
sub-command. A hello message is sent over the established channel and
the command succeeds when the worker answers with a good-day message
within the probe timeout.`,
	RunE: ping,
}

// pingHandler resolves the health probe: a good-day answer reports
// success and a broken channel reports the breaking error.
type pingHandler struct {
	result chan error
}

func (h *pingHandler) OnGoodDay() {
	h.result <- nil
}

func (h *pingHandler) OnMessage(m proc.Message) {
}

func (h *pingHandler) OnChannelError(err error) {
	h.result <- fmt.Errorf("worker channel broke down: %w", err)
}

func ping(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	command, args := os.Args[0], []string{"worker"}
	if c, err := config.Load(cfgPath); err == nil &&
		c.Worker.Command != "" {
		command, args = c.Worker.Command, c.Worker.Args
	}

	ctl := proc.NewControl(command, args...)
	h := &pingHandler{result: make(chan error, 2)}
	ctl.SetMessageHandler(h)

	connected := make(chan error, 1)
	ctl.Launch(ctx, func(err error) { connected <- err })
	select {
	case err := <-connected:
		if err != nil {
			return fmt.Errorf("launching worker: %w", err)
		}
	case <-time.After(pingTimeout):
		return fmt.Errorf("worker did not connect within %s", pingTimeout)
	}
	log.Info(ctx, "worker connected")

	if err := ctl.SendHello(); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}
	select {
	case err := <-h.result:
		if err != nil {
			return err
		}
	case <-time.After(pingTimeout):
		return fmt.Errorf("no good-day answer within %s", pingTimeout)
	}
	log.Info(ctx, "worker answered with a good-day")

	if err := ctl.Shutdown(); err != nil {
		return fmt.Errorf("shutting worker down: %w", err)
	}
	return nil
}

func init() {
	pingCmd.Flags().DurationVar(
		&pingTimeout, "timeout", 10*time.Second,
		"health probe timeout",
	)
	rootCmd.AddCommand(pingCmd)
}
