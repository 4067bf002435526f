// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Command orchestratorctl is the CLI front end for the orchestrator's
// service surface : it runs the agent that hosts the
// rebalance and failover orchestrators, and drives it via subcommands
// that dial in over net/rpc.
package main

import (
	"os"

	"github.com/hashicorp/cli"
	"github.com/nkvstore/orchestrator/cmd/orchestratorctl/command"
)

// Version is stamped at build time.
var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := &cli.BasicUi{
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
		Reader:      os.Stdin,
	}
	meta := command.Meta{Ui: ui}

	c := cli.NewCLI("orchestratorctl", Version)
	c.Args = args
	c.Commands = map[string]cli.CommandFactory{
		"agent": func() (cli.Command, error) {
			return &command.AgentCommand{Meta: meta}, nil
		},
		"rebalance start": func() (cli.Command, error) {
			return &command.RebalanceStartCommand{Meta: meta}, nil
		},
		"failover hard": func() (cli.Command, error) {
			return &command.FailoverHardCommand{Meta: meta}, nil
		},
		"failover graceful": func() (cli.Command, error) {
			return &command.FailoverGracefulCommand{Meta: meta}, nil
		},
		"failover validate": func() (cli.Command, error) {
			return &command.FailoverValidateCommand{Meta: meta}, nil
		},
		"failover check": func() (cli.Command, error) {
			return &command.FailoverCheckCommand{Meta: meta}, nil
		},
		"stop": func() (cli.Command, error) {
			return &command.StopCommand{Meta: meta}, nil
		},
		"nodes list": func() (cli.Command, error) {
			return &command.NodesListCommand{Meta: meta}, nil
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return 1
	}
	return exitCode
}
