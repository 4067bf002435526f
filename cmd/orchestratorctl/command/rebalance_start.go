// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"
	"strings"

	"github.com/hashicorp/cli"
	"github.com/nkvstore/orchestrator/control"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/posener/complete"
)

// RebalanceStartCommand implements start_rebalance.
type RebalanceStartCommand struct {
	Meta

	flagCluster      string
	flagKeep         string
	flagEject        string
	flagFailed       string
	flagBuckets      string
	flagDeltaNodes   string
	flagDeltaBuckets string
}

func (c *RebalanceStartCommand) Help() string {
	return `Usage: orchestratorctl rebalance start [options]

  Starts a rebalance across the buckets named by -buckets, moving
  vbuckets so that -keep ends up serving them and -eject/-failed do not.

Options:

  -cluster=<path>    Cluster descriptor JSON file (required)
  -keep=<ids>        Comma-separated node ids to keep (required)
  -eject=<ids>       Comma-separated node ids to eject gracefully
  -failed=<ids>      Comma-separated node ids already known failed
  -buckets=<names>   Comma-separated bucket names to rebalance (required)
  -delta-nodes=<ids> Comma-separated node ids in -keep to attempt delta
                     recovery for
  -delta-buckets=<names>
                     Comma-separated bucket names delta recovery is
                     required on (default: every membase bucket in
                     -buckets, when -delta-nodes is set)
`
}

func (c *RebalanceStartCommand) Synopsis() string { return "Start a rebalance" }

func (c *RebalanceStartCommand) AutocompleteFlags() complete.Flags { return complete.Flags{} }
func (c *RebalanceStartCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *RebalanceStartCommand) Run(args []string) int {
	fs := c.FlagSet("rebalance start")
	fs.StringVar(&c.flagCluster, "cluster", "", "")
	fs.StringVar(&c.flagKeep, "keep", "", "")
	fs.StringVar(&c.flagEject, "eject", "", "")
	fs.StringVar(&c.flagFailed, "failed", "", "")
	fs.StringVar(&c.flagBuckets, "buckets", "", "")
	fs.StringVar(&c.flagDeltaNodes, "delta-nodes", "", "")
	fs.StringVar(&c.flagDeltaBuckets, "delta-buckets", "", "")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if c.flagCluster == "" || c.flagKeep == "" || c.flagBuckets == "" {
		c.Ui.Error(c.Help())
		return 1
	}

	client, err := control.Dial(c.flagAddress, c.flagTimeout)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error dialing agent: %s", err))
		return 1
	}
	defer client.Close()

	req := control.RebalanceArgs{
		Keep:         nodeIDs(c.flagKeep),
		Eject:        nodeIDs(c.flagEject),
		Failed:       nodeIDs(c.flagFailed),
		Buckets:      splitNonEmpty(c.flagBuckets),
		DeltaNodes:   nodeIDs(c.flagDeltaNodes),
		DeltaBuckets: splitNonEmpty(c.flagDeltaBuckets),
	}
	if err := client.StartRebalance(req); err != nil {
		c.Ui.Error(fmt.Sprintf("Error running rebalance: %s", err))
		return 1
	}
	c.Ui.Output("Rebalance complete")
	return 0
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nodeIDs(s string) []structs.NodeID {
	parts := splitNonEmpty(s)
	out := make([]structs.NodeID, 0, len(parts))
	for _, p := range parts {
		out = append(out, structs.NodeID(p))
	}
	return out
}
