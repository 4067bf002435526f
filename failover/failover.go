// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package failover implements hard failover, auto-failover safety
// validation, and graceful failover.
package failover

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/nkvstore/orchestrator/config"
	"github.com/nkvstore/orchestrator/configstore"
	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/eventbus"
	"github.com/nkvstore/orchestrator/janitor"
	"github.com/nkvstore/orchestrator/mover"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/nkvstore/orchestrator/vbmap"
)

// Planning errors refused before any state change.
var (
	ErrNotGraceful = errors.New("not_graceful")
	ErrNonKVNode   = errors.New("non_kv_node")
	ErrLastNode    = errors.New("last_node")
	ErrUnknownNode = errors.New("unknown_node")
)

// Orchestrator drives hard failover, auto-failover validation, and
// graceful failover for a single node at a time.
type Orchestrator struct {
	store   configstore.Store
	client  engineclient.Client
	cfg     config.Config
	logger  hclog.Logger
	bus     eventbus.Bus
	janitor *janitor.Janitor
}

// New constructs an Orchestrator.
func New(store configstore.Store, client engineclient.Client, cfg config.Config, bus eventbus.Bus, logger hclog.Logger) *Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("failover")
	return &Orchestrator{
		store:   store,
		client:  client,
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		janitor: janitor.New(client, logger, cfg.QueryStatesTimeout),
	}
}

// DataLoss describes one bucket where a hard failover left vbuckets with
// no owner.
type DataLoss struct {
	Bucket     string
	Percentage float64
}

// Hard runs hard failover of node over every bucket.
// All memcached buckets simply drop node from their servers set;
// membase buckets promote replicas, detect and audit any resulting data
// loss, and run a non-fatal janitor sweep. After every bucket, node is
// removed from every service map, its failed-over vbuckets are recorded
// for future delta recovery, and it is marked inactive_failed. The node
// is never evicted from the cluster by this call; it may return later
// via recovery.
func (o *Orchestrator) Hard(ctx context.Context, node structs.NodeID, buckets []structs.BucketConfig, services structs.ServiceMap) ([]DataLoss, error) {
	var losses []DataLoss
	dead := structs.NewNodeSet(node)

	for _, b := range buckets {
		if b.Type == structs.BucketMemcached {
			b.Servers = withoutNode(b.Servers, node)
			if err := o.store.Set(ctx, configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketServers, b.Name), Value: b.Servers}); err != nil {
				return losses, fmt.Errorf("update memcached bucket %s servers: %w", b.Name, err)
			}
			continue
		}

		promoted := vbmap.PromoteReplicas(b.Map, dead)
		lost := unownedVbuckets(promoted)
		if len(lost) > 0 {
			pct := 100 * float64(len(lost)) / float64(len(promoted))
			losses = append(losses, DataLoss{Bucket: b.Name, Percentage: pct})
			o.publish(eventbus.KindDataLost, b.Name, node, fmt.Sprintf("%.2f%% vbuckets unowned", pct))
		}

		newServers := withoutNode(b.Servers, node)
		if err := o.store.SetMultiple(ctx,
			configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketMap, b.Name), Value: structs.HistoryEntry{Map: promoted, Opts: b.Opts()}},
			configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketFastForwardMap, b.Name), Value: (*structs.VBucketMap)(nil)},
			configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketServers, b.Name), Value: newServers},
		); err != nil {
			return losses, fmt.Errorf("commit failover of bucket %s: %w", b.Name, err)
		}

		if _, err := o.janitor.Sweep(ctx, b.Name, promoted, newServers); err != nil {
			o.logger.Warn("janitor sweep after hard failover failed, continuing", "bucket", b.Name, "node", node, "error", err)
			o.publish(eventbus.KindJanitorFail, b.Name, node, err.Error())
		}

		recordFailoverVbuckets(ctx, o.store, node, b.Name, b.Map, dead)
	}

	for svc, nodes := range services {
		if nodes != nil && nodes.Contains(node) {
			remaining := nodes.Copy()
			remaining.Remove(node)
			_ = o.store.Set(ctx, configstore.Change{Key: configstore.ServiceKey(svc), Value: remaining})
		}
	}

	if err := o.store.Set(ctx, configstore.Change{Key: configstore.NodeKey(configstore.KeyNodeMembership, node), Value: structs.MembershipInactiveFailed}); err != nil {
		return losses, fmt.Errorf("mark node inactive_failed: %w", err)
	}

	return losses, nil
}

// recordFailoverVbuckets persists the vbucket ids node was serving
// immediately before the promotion, for future delta recovery. The
// {node, failover_vbuckets} key holds one FailoverRecord per node
// spanning every membase bucket, so the existing record is read and
// merged rather than replaced -- a bare overwrite would erase every
// other bucket already recorded for this node in the same failover.
func recordFailoverVbuckets(ctx context.Context, store configstore.Store, node structs.NodeID, bucket string, before structs.VBucketMap, dead structs.NodeSet) {
	ids := make([]int, 0)
	for vb, chain := range before {
		if chain.Contains(node) {
			ids = append(ids, vb)
		}
	}

	key := configstore.NodeKey(configstore.KeyNodeFailoverVbuckets, node)
	rec := structs.FailoverRecord{}
	if existing, _, err := store.Get(ctx, key); err == nil {
		if r, ok := existing.(structs.FailoverRecord); ok {
			rec = r
		}
	}
	rec[bucket] = structs.NewVbucketSet(ids...)

	_ = store.Set(ctx, configstore.Change{Key: key, Value: rec})
}

// ValidateAutoFailover simulates a hard failover of node against every
// membase bucket and returns the names of buckets that would be left
// with an unowned vbucket. Auto-failover may only proceed when the
// returned list is empty.
func (o *Orchestrator) ValidateAutoFailover(node structs.NodeID, buckets []structs.BucketConfig) []string {
	dead := structs.NewNodeSet(node)
	var unsafe []string
	for _, b := range buckets {
		if b.Type != structs.BucketMembase {
			continue
		}
		promoted := vbmap.PromoteReplicas(b.Map, dead)
		if len(unownedVbuckets(promoted)) > 0 {
			unsafe = append(unsafe, b.Name)
		}
	}
	return unsafe
}

// CheckFailoverPossible reports whether node can be failed over at all:
// ok, last_node (it is the only active kv node), or unknown_node.
func CheckFailoverPossible(node structs.NodeID, nodes []structs.Node) error {
	var found *structs.Node
	kvCount := 0
	for i := range nodes {
		if nodes[i].ID == node {
			found = &nodes[i]
		}
		if nodes[i].Membership == structs.MembershipActive && nodes[i].RunsKV() {
			kvCount++
		}
	}
	if found == nil {
		return ErrUnknownNode
	}
	if found.RunsKV() && kvCount <= 1 {
		return ErrLastNode
	}
	return nil
}

// Graceful drains node's vbuckets via a Vbucket Mover before handing off
// to Hard Preconditions: node runs kv, is not the
// last active kv node, and for every membase bucket
// promote_replicas_for_graceful_failover leaves node head of no chain
// (otherwise ErrNotGraceful).
func (o *Orchestrator) Graceful(ctx context.Context, node structs.NodeID, nodes []structs.Node, buckets []structs.BucketConfig, services structs.ServiceMap) ([]DataLoss, error) {
	if err := CheckFailoverPossible(node, nodes); err != nil {
		return nil, err
	}

	var found *structs.Node
	for i := range nodes {
		if nodes[i].ID == node {
			found = &nodes[i]
		}
	}
	if found == nil || !found.RunsKV() {
		return nil, ErrNonKVNode
	}

	targets := make(map[string]structs.VBucketMap, len(buckets))
	for _, b := range buckets {
		if b.Type != structs.BucketMembase {
			continue
		}
		target := vbmap.PromoteReplicasForGracefulFailover(b.Map, node)
		if headOfAny(target, node) {
			return nil, ErrNotGraceful
		}
		targets[b.Name] = target
	}

	for _, b := range buckets {
		target, ok := targets[b.Name]
		if !ok {
			continue
		}
		mv := mover.New(o.client, b.Map, target, mover.Options{
			Bucket:      b.Name,
			Parallelism: o.cfg.MoveParallelism,
			Logger:      o.logger,
		})
		outcome := mv.Run(ctx)
		if outcome.Err != nil {
			return nil, fmt.Errorf("graceful failover drain of bucket %s: %w", b.Name, outcome.Err)
		}
		if outcome.Stopped {
			return nil, errors.New("stopped")
		}
		if err := o.store.SetMultiple(ctx,
			configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketMap, b.Name), Value: structs.HistoryEntry{Map: target, Opts: b.Opts()}},
		); err != nil {
			return nil, fmt.Errorf("commit drained map for bucket %s: %w", b.Name, err)
		}
		b.Map = target
	}

	return o.Hard(ctx, node, buckets, services)
}

func headOfAny(m structs.VBucketMap, node structs.NodeID) bool {
	for _, chain := range m {
		if chain.Master() == node {
			return true
		}
	}
	return false
}

func unownedVbuckets(m structs.VBucketMap) []int {
	var ids []int
	for vb, chain := range m {
		if chain.Master() == structs.Unassigned {
			ids = append(ids, vb)
		}
	}
	return ids
}

func withoutNode(servers structs.NodeSet, node structs.NodeID) structs.NodeSet {
	out := servers.Copy()
	out.Remove(node)
	return out
}

func (o *Orchestrator) publish(kind eventbus.Kind, bucket string, node structs.NodeID, reason string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Kind: kind, Bucket: bucket, Node: node, Reason: reason})
}
