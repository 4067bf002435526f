// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"
	"strings"

	"github.com/nkvstore/orchestrator/control"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/posener/complete"
)

// FailoverValidateCommand reports the buckets that would lose data if
// node were failed over right now, without changing any state.
type FailoverValidateCommand struct {
	Meta

	flagCluster string
}

func (c *FailoverValidateCommand) Help() string {
	return `Usage: orchestratorctl failover validate [options] <node>

  Simulates a hard failover of node and lists the buckets that would be
  left with an unowned vbucket. An empty list means auto-failover may
  proceed safely.

Options:

  -cluster=<path>  Cluster descriptor JSON file, read only to complete
                   node ids
`
}

func (c *FailoverValidateCommand) Synopsis() string { return "Check whether auto-failover of a node is safe" }

func (c *FailoverValidateCommand) AutocompleteFlags() complete.Flags { return complete.Flags{} }
func (c *FailoverValidateCommand) AutocompleteArgs() complete.Predictor {
	return nodePredictor{clusterPath: func() string { return c.flagCluster }}
}

func (c *FailoverValidateCommand) Run(args []string) int {
	fs := c.FlagSet("failover validate")
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

	reply, err := client.ValidateAutoFailover(control.NodeArgs{Node: structs.NodeID(rest[0])})
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error validating: %s", err))
		return 1
	}
	if len(reply.Unsafe) == 0 {
		c.Ui.Output("safe")
		return 0
	}
	c.Ui.Output(fmt.Sprintf("unsafe: %s", strings.Join(reply.Unsafe, ", ")))
	return 0
}
