// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"

	"github.com/nkvstore/orchestrator/control"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/posener/complete"
)

// FailoverGracefulCommand drains a node's data to its replicas before
// failing it over.
type FailoverGracefulCommand struct {
	Meta

	flagCluster string
}

func (c *FailoverGracefulCommand) Help() string {
	return `Usage: orchestratorctl failover graceful [options] <node>

  Drains node's vbuckets before failing it over, avoiding data loss
  where possible. Refuses with not_graceful if node would still be a
  chain head after the drain.

Options:

  -cluster=<path>  Cluster descriptor JSON file, read only to complete
                   node ids
`
}

func (c *FailoverGracefulCommand) Synopsis() string { return "Gracefully fail over a node" }

func (c *FailoverGracefulCommand) AutocompleteFlags() complete.Flags { return complete.Flags{} }
func (c *FailoverGracefulCommand) AutocompleteArgs() complete.Predictor {
	return nodePredictor{clusterPath: func() string { return c.flagCluster }}
}

func (c *FailoverGracefulCommand) Run(args []string) int {
	fs := c.FlagSet("failover graceful")
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

	reply, err := client.StartGracefulFailover(control.NodeArgs{Node: structs.NodeID(rest[0])})
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error failing over node: %s", err))
		return 1
	}
	for _, l := range reply.Losses {
		c.Ui.Warn(fmt.Sprintf("bucket %s: %.2f%% of vbuckets lost data", l.Bucket, l.Percentage))
	}
	c.Ui.Output("Graceful failover complete")
	return 0
}
