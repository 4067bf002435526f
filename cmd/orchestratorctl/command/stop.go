// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"

	"github.com/nkvstore/orchestrator/control"
)

// StopCommand implements stop : cancels whichever
// rebalance or failover the agent is currently running. Idempotent.
type StopCommand struct {
	Meta
}

func (c *StopCommand) Help() string {
	return `Usage: orchestratorctl stop [options]

  Cancels the rebalance or failover currently in progress, if any.
`
}

func (c *StopCommand) Synopsis() string { return "Stop the in-progress rebalance or failover" }

func (c *StopCommand) Run(args []string) int {
	fs := c.FlagSet("stop")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	client, err := control.Dial(c.flagAddress, c.flagTimeout)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error dialing agent: %s", err))
		return 1
	}
	defer client.Close()

	if err := client.Stop(); err != nil {
		c.Ui.Error(fmt.Sprintf("Error stopping: %s", err))
		return 1
	}
	c.Ui.Output("Stopped")
	return 0
}
