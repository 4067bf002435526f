// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package command implements the orchestratorctl subcommands: thin
// control.Client wrappers over the agent's RPC surface, in a
// Meta-embedding, flag.FlagSet-returning style common to multi-command
// CLIs.
package command

import (
	"flag"
	"time"

	"github.com/hashicorp/cli"
)

// Meta holds flags and a Ui shared by every subcommand.
type Meta struct {
	Ui cli.Ui

	flagAddress string
	flagTimeout time.Duration
}

// FlagSet returns a FlagSet pre-populated with the flags every command
// accepts, named after the command invoking it for usage output.
func (m *Meta) FlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&m.flagAddress, "address", "127.0.0.1:7954", "Address of the orchestratorctl agent")
	fs.DurationVar(&m.flagTimeout, "timeout", 10*time.Second, "Dial timeout")
	fs.Usage = func() {}
	return fs
}
