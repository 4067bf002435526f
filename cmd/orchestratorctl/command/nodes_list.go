// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"

	"github.com/hashicorp/go-bexpr"
)

// nodeFilterView is the shape go-bexpr matches -filter expressions
// against; field names are what the user writes on the right of a
// selector, e.g. -filter 'Membership == "active" and Group == ""'.
type nodeFilterView struct {
	ID         string
	Membership string
	Group      string
	RunsKV     bool
}

// NodesListCommand lists the nodes in a cluster descriptor, optionally
// narrowed by a go-bexpr boolean filter expression.
type NodesListCommand struct {
	Meta

	flagCluster string
	flagFilter  string
}

func (c *NodesListCommand) Help() string {
	return `Usage: orchestratorctl nodes list [options]

  Lists the nodes known to a cluster descriptor.

Options:

  -cluster=<path>  Cluster descriptor JSON file (required)
  -filter=<expr>   go-bexpr boolean expression over ID, Membership,
                    Group, RunsKV
`
}

func (c *NodesListCommand) Synopsis() string { return "List cluster nodes" }

func (c *NodesListCommand) Run(args []string) int {
	fs := c.FlagSet("nodes list")
	fs.StringVar(&c.flagCluster, "cluster", "", "")
	fs.StringVar(&c.flagFilter, "filter", "", "")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if c.flagCluster == "" {
		c.Ui.Error(c.Help())
		return 1
	}

	cluster, err := loadCluster(c.flagCluster)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	var eval *bexpr.Evaluator
	if c.flagFilter != "" {
		eval, err = bexpr.CreateEvaluator(c.flagFilter)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Invalid filter: %s", err))
			return 1
		}
	}

	for _, n := range cluster.Nodes {
		view := nodeFilterView{
			ID:         string(n.ID),
			Membership: string(n.Membership),
			Group:      string(n.Group),
			RunsKV:     n.RunsKV(),
		}
		if eval != nil {
			match, err := eval.Evaluate(view)
			if err != nil {
				c.Ui.Error(fmt.Sprintf("Evaluate filter: %s", err))
				return 1
			}
			if !match {
				continue
			}
		}
		c.Ui.Output(fmt.Sprintf("%s membership=%s group=%s kv=%v", view.ID, view.Membership, view.Group, view.RunsKV))
	}
	return 0
}
