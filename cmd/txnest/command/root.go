// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package command provides the root and sub-commands for the txnest
// CLI. Commands are organized using the cobra library.
// The "demo" sub-command walks through the nested transaction
// semantics against a configured PostgreSQL database or against the
// in-memory engine, the "worker" sub-command runs the auxiliary
// worker process body, and the "ping" sub-command launches a worker
// and probes its healthiness.
//
//	./txnest demo [--memdb] [-c /path/of/main/config.yaml]
//	./txnest ping [-c /path/of/main/config.yaml]
//	./txnest worker
package command

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "txnest",
	Short: "Nested transaction management over single-level engines",
	Long: `Nested transaction management over single-level engines.
The underlying database engine supports one transaction level per
connection, a single active BEGIN until its matching COMMIT or
ROLLBACK. The txnest library makes recursively opened transaction
scopes observably correct over such a connection: only the outermost
Begin issues the engine-level BEGIN, only the outermost clean Commit
issues the engine-level COMMIT, and a Rollback at any nesting depth
forces the whole outer transaction to finally roll back.
This CLI demonstrates those semantics and hosts the auxiliary worker
process which the library's process-control adapter launches.`,
}

// Execute runs the rootCmd which in turn parses CLI arguments and
// flags and runs the most specific cobra command. The exit code may
// be a boolean (zero for success and non-zero for failure) or may be
// chosen based on the error condition (if it is desired to report
// several error conditions in the CLI of this program).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(fixConfigPath)
	rootCmd.PersistentFlags().StringVarP(
		&cfgPath, "config", "c", "", "config file path",
	)
}

// fixConfigPath ensures that cfgPath is set respectively by either the
// CLI args, the CONFIG_FILE environment variable, or its default value.
func fixConfigPath() {
	if cfgPath != "" {
		return
	}
	var found bool
	if cfgPath, found = os.LookupEnv("CONFIG_FILE"); !found {
		// the default path should usually be in the /etc directory
		cfgPath = "configs/sample-config.yaml"
	}
}
