// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/nkvstore/orchestrator/config"
	"github.com/nkvstore/orchestrator/configstore"
	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/eventbus"
	"github.com/nkvstore/orchestrator/failover"
	"github.com/nkvstore/orchestrator/rebalance"
	"github.com/nkvstore/orchestrator/recovery"
	"github.com/nkvstore/orchestrator/structs"
)

// Cluster is the agent's view of the nodes, buckets, and services it is
// willing to operate on, keyed by name/id. orchestratorctl's clusterfile
// loader populates one of these at agent startup; the config store and
// engine client remain the orchestrator's sole source of truth once a
// rebalance or failover is underway.
type Cluster struct {
	Nodes    []structs.Node
	Buckets  map[string]structs.BucketConfig
	Services structs.ServiceMap
	Groups   structs.ServerGroups
	Self     structs.NodeID
}

// Control is the net/rpc service backing orchestratorctl: every exported
// method corresponds to one operator-facing operation. Only one
// rebalance or failover may run at a time; Stop cancels whichever is in
// flight.
type Control struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	cluster *Cluster
	store   configstore.Store
	client  engineclient.Client
	bus     eventbus.Bus
	logger  hclog.Logger

	rebalance *rebalance.Orchestrator
	failover  *failover.Orchestrator
}

// NewControl constructs a Control bound to cluster, backed by store and
// client.
func NewControl(cluster *Cluster, store configstore.Store, client engineclient.Client, cfg config.Config, bus eventbus.Bus, logger hclog.Logger) *Control {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("control")
	return &Control{
		cluster:   cluster,
		store:     store,
		client:    client,
		bus:       bus,
		logger:    logger,
		rebalance: rebalance.New(store, client, cfg, bus, logger),
		failover:  failover.New(store, client, cfg, bus, logger),
	}
}

func (c *Control) begin() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil, errors.New("control: an operation is already in progress")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	return ctx, nil
}

func (c *Control) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Control) bucketsNamed(names []string) ([]structs.BucketConfig, error) {
	out := make([]structs.BucketConfig, 0, len(names))
	for _, n := range names {
		b, ok := c.cluster.Buckets[n]
		if !ok {
			return nil, fmt.Errorf("control: unknown bucket %q", n)
		}
		out = append(out, b)
	}
	return out, nil
}

// StartRebalance kicks off a rebalance over the given keep/eject/failed
// node sets and bucket list.
func (c *Control) StartRebalance(args RebalanceArgs, reply *RebalanceReply) error {
	buckets, err := c.bucketsNamed(args.Buckets)
	if err != nil {
		return err
	}
	ctx, err := c.begin()
	if err != nil {
		return err
	}
	defer c.end()

	keep := structs.NewNodeSet(args.Keep...)
	req := rebalance.Request{
		Keep:     keep,
		Eject:    structs.NewNodeSet(args.Eject...),
		Failed:   structs.NewNodeSet(args.Failed...),
		Buckets:  buckets,
		Services: c.cluster.Services,
		Groups:   c.cluster.Groups,
		SelfNode: c.cluster.Self,
	}

	if len(args.DeltaNodes) > 0 {
		recovering := structs.NewNodeSet(args.DeltaNodes...)
		requested := recovery.Requested{All: len(args.DeltaBuckets) == 0}
		if !requested.All {
			requested.Names = make(map[string]bool, len(args.DeltaBuckets))
			for _, b := range args.DeltaBuckets {
				requested.Names[b] = true
			}
		}
		plans, err := c.rebalance.PlanDeltaRecovery(ctx, keep, recovering, buckets, requested)
		if err != nil {
			return err
		}
		req.DeltaPlans = plans
		req.DeltaRecoveringNodes = recovering
	}

	if err := c.rebalance.Run(ctx, req); err != nil {
		return err
	}
	*reply = RebalanceReply{}
	return nil
}

// Stop implements the stop operation: it cancels whichever rebalance or
// failover is currently running. A Stop with nothing in flight is a
// no-op, matching the "stop is idempotent" note.
func (c *Control) Stop(_ Empty, reply *Empty) error {
	c.end()
	*reply = Empty{}
	return nil
}

// OrchestrateFailover implements hard failover over every bucket the
// cluster descriptor knows about.
func (c *Control) OrchestrateFailover(args NodeArgs, reply *FailoverReply) error {
	ctx, err := c.begin()
	if err != nil {
		return err
	}
	defer c.end()

	buckets := c.allBuckets()
	losses, err := c.failover.Hard(ctx, args.Node, buckets, c.cluster.Services)
	if err != nil {
		return err
	}
	*reply = FailoverReply{Losses: toWireLosses(losses)}
	return nil
}

// StartGracefulFailover implements graceful failover.
func (c *Control) StartGracefulFailover(args NodeArgs, reply *FailoverReply) error {
	ctx, err := c.begin()
	if err != nil {
		return err
	}
	defer c.end()

	buckets := c.allBuckets()
	losses, err := c.failover.Graceful(ctx, args.Node, c.cluster.Nodes, buckets, c.cluster.Services)
	if err != nil {
		return err
	}
	*reply = FailoverReply{Losses: toWireLosses(losses)}
	return nil
}

// ValidateAutoFailover implements validate_autofailover.
func (c *Control) ValidateAutoFailover(args NodeArgs, reply *ValidateReply) error {
	unsafe := c.failover.ValidateAutoFailover(args.Node, c.allBuckets())
	*reply = ValidateReply{Unsafe: unsafe}
	return nil
}

// CheckFailoverPossible implements check_failover_possible.
func (c *Control) CheckFailoverPossible(args NodeArgs, reply *CheckReply) error {
	err := failover.CheckFailoverPossible(args.Node, c.cluster.Nodes)
	switch {
	case err == nil:
		*reply = CheckReply{}
	case errors.Is(err, failover.ErrLastNode):
		*reply = CheckReply{Reason: "last_node"}
	case errors.Is(err, failover.ErrUnknownNode):
		*reply = CheckReply{Reason: "unknown_node"}
	default:
		return err
	}
	return nil
}

func (c *Control) allBuckets() []structs.BucketConfig {
	out := make([]structs.BucketConfig, 0, len(c.cluster.Buckets))
	for _, b := range c.cluster.Buckets {
		out = append(out, b)
	}
	return out
}

func toWireLosses(losses []failover.DataLoss) []DataLoss {
	out := make([]DataLoss, 0, len(losses))
	for _, l := range losses {
		out = append(out, DataLoss{Bucket: l.Bucket, Percentage: l.Percentage})
	}
	return out
}
