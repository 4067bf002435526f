// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"

	"github.com/nkvstore/orchestrator/control"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/posener/complete"
)

// FailoverCheckCommand reports whether a node can be failed over at all.
type FailoverCheckCommand struct {
	Meta

	flagCluster string
}

func (c *FailoverCheckCommand) Help() string {
	return `Usage: orchestratorctl failover check [options] <node>

  Reports whether node can be failed over at all: ok, last_node (it is
  the only active kv node), or unknown_node.

Options:

  -cluster=<path>  Cluster descriptor JSON file, read only to complete
                   node ids
`
}

func (c *FailoverCheckCommand) Synopsis() string { return "Check whether a node can be failed over" }

func (c *FailoverCheckCommand) AutocompleteFlags() complete.Flags { return complete.Flags{} }
func (c *FailoverCheckCommand) AutocompleteArgs() complete.Predictor {
	return nodePredictor{clusterPath: func() string { return c.flagCluster }}
}

func (c *FailoverCheckCommand) Run(args []string) int {
	fs := c.FlagSet("failover check")
	fs.StringVar(&c.flagCluster, "cluster", "", "")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) != 1 {
		c.Ui.Error(c.Help())
		return 1
	}

	client, err := control.Dial(c.flagAddress, c.flagTimeout)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error dialing agent: %s", err))
		return 1
	}
	defer client.Close()

	reply, err := client.CheckFailoverPossible(control.NodeArgs{Node: structs.NodeID(rest[0])})
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error checking: %s", err))
		return 1
	}
	if reply.Reason == "" {
		c.Ui.Output("ok")
		return 0
	}
	c.Ui.Output(reply.Reason)
	return 0
}
