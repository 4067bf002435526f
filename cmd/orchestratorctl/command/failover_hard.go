// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"

	"github.com/nkvstore/orchestrator/control"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/posener/complete"
)

// FailoverHardCommand implements orchestrate_failover.
type FailoverHardCommand struct {
	Meta

	flagCluster string
}

func (c *FailoverHardCommand) Help() string {
	return `Usage: orchestratorctl failover hard [options] <node>

  Hard-fails-over node: promotes replicas immediately, accepting any
  resulting data loss.

Options:

  -cluster=<path>  Cluster descriptor JSON file, read only to complete
                   node ids
`
}

func (c *FailoverHardCommand) Synopsis() string { return "Hard failover a node" }

func (c *FailoverHardCommand) AutocompleteFlags() complete.Flags { return complete.Flags{} }
func (c *FailoverHardCommand) AutocompleteArgs() complete.Predictor {
	return nodePredictor{clusterPath: func() string { return c.flagCluster }}
}

func (c *FailoverHardCommand) Run(args []string) int {
	fs := c.FlagSet("failover hard")
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

	reply, err := client.OrchestrateFailover(control.NodeArgs{Node: structs.NodeID(rest[0])})
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error failing over node: %s", err))
		return 1
	}
	for _, l := range reply.Losses {
		c.Ui.Warn(fmt.Sprintf("bucket %s: %.2f%% of vbuckets lost data", l.Bucket, l.Percentage))
	}
	c.Ui.Output("Failover complete")
	return 0
}
