// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package rebalance implements the top-level rebalance driver: it syncs
// config to every keep-node, activates services,
// evicts failed nodes, cleans up and waits out old buckets, applies any
// staged delta recovery, then walks every bucket in order generating or
// reusing its target map, driving a Vbucket Mover to completion, and
// finally verifying replication before committing. A stop request at any
// checkpoint produces a clean ErrStopped exit rather than a failure.
package rebalance

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nkvstore/orchestrator/config"
	"github.com/nkvstore/orchestrator/configstore"
	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/eventbus"
	"github.com/nkvstore/orchestrator/fanout"
	"github.com/nkvstore/orchestrator/janitor"
	"github.com/nkvstore/orchestrator/mover"
	"github.com/nkvstore/orchestrator/recovery"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/nkvstore/orchestrator/vbmap"
)

// Request bundles everything the orchestrator needs to drive one
// rebalance: the keep/eject/failed node sets, the buckets to move, and
// any staged delta recovery plans.
type Request struct {
	Keep     structs.NodeSet
	Eject    structs.NodeSet
	Failed   structs.NodeSet
	Buckets  []structs.BucketConfig
	DeltaPlans []recovery.Plan
	// DeltaRecoveringNodes is the subset of Keep whose local data is
	// being reconciled via DeltaPlans rather than copied fresh.
	DeltaRecoveringNodes structs.NodeSet
	// Services is the desired service-to-node map (restricted to Keep)
	// to activate in step 2.
	Services structs.ServiceMap
	// Groups is the current server-group topology, consulted by the map
	// generator's tag policy.
	Groups structs.ServerGroups
	// SelfNode is never ejected.
	SelfNode structs.NodeID
}

// Orchestrator drives one rebalance to completion.
type Orchestrator struct {
	store   configstore.Store
	client  engineclient.Client
	cfg     config.Config
	logger  hclog.Logger
	bus     eventbus.Bus
	janitor *janitor.Janitor
	planner *recovery.Planner
}

// New constructs an Orchestrator.
func New(store configstore.Store, client engineclient.Client, cfg config.Config, bus eventbus.Bus, logger hclog.Logger) *Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("rebalance")
	return &Orchestrator{
		store:   store,
		client:  client,
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		janitor: janitor.New(client, logger, cfg.QueryStatesTimeout),
		planner: recovery.New(logger),
	}
}

// Run drives req to completion or until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, req Request) error {
	if req.Keep.Size() == 0 {
		return ErrNoKVNodesLeft
	}

	if err := o.preSync(ctx, req); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ErrStopped
	}

	if err := o.activateServices(ctx, req); err != nil {
		return err
	}

	o.ejectImmediately(ctx, req.Failed, req.SelfNode)

	if err := o.cleanupOldBuckets(ctx, req); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ErrStopped
	}

	if err := o.waitBucketsShutdown(ctx, req); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ErrStopped
	}

	if len(req.DeltaPlans) > 0 {
		if err := o.applyDeltaRecovery(ctx, req); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ErrStopped
	}

	for _, bucket := range req.Buckets {
		if ctx.Err() != nil {
			return ErrStopped
		}
		if err := o.rebalanceBucket(ctx, req, bucket); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return ErrStopped
	}

	if err := o.postSync(ctx, req); err != nil {
		return err
	}

	o.ejectComplement(ctx, req)
	return nil
}

// preSync pushes the pending config to every keep-node before any other
// rebalance step runs.
func (o *Orchestrator) preSync(ctx context.Context, req Request) error {
	failed, err := o.store.SynchronizeRemote(ctx, req.Keep)
	if err != nil || failed.Size() > 0 {
		o.logger.Error("pre-rebalance config sync failed", "failed_nodes", failed.Slice(), "error", err)
		return ErrPreRebalanceConfigSyncFailed
	}
	return nil
}

// activateServices idempotently sets the service-to-node map for every
// known service to the subset of Keep running it.
func (o *Orchestrator) activateServices(ctx context.Context, req Request) error {
	var changes []configstore.Change
	for svc, nodes := range req.Services {
		changes = append(changes, configstore.Change{Key: configstore.ServiceKey(svc), Value: nodes})
	}
	if len(changes) == 0 {
		return nil
	}
	return o.store.SetMultiple(ctx, changes...)
}

// ejectImmediately evicts every node in failed except self right away.
// Eviction itself is an external collaborator's concern (cluster
// membership); here we only set their config-store membership to
// inactive_failed.
func (o *Orchestrator) ejectImmediately(ctx context.Context, failed structs.NodeSet, self structs.NodeID) {
	for _, n := range failed.Slice() {
		if n == self {
			continue
		}
		_ = o.store.Set(ctx, configstore.Change{Key: configstore.NodeKey(configstore.KeyNodeMembership, n), Value: structs.MembershipInactiveFailed})
	}
}

// cleanupOldBuckets asks every keep-node to delete on-disk state for
// buckets no longer required.
func (o *Orchestrator) cleanupOldBuckets(ctx context.Context, req Request) error {
	res := fanout.Do(ctx, req.Keep, len(req.Buckets)+1, func(ctx context.Context, node structs.NodeID) error {
		return o.client.DeleteUnusedBucketFiles(ctx, node)
	})
	if !res.OK() {
		failed := res.Down.Union(structs.NewNodeSet(keysOf(res.Bad)...))
		return &BucketsCleanupFailed{Nodes: failed}
	}
	return nil
}

// waitBucketsShutdown blocks until each keep-node has torn down any local
// bucket it should no longer host, bounded by a timeout scaled by bucket
// count.
func (o *Orchestrator) waitBucketsShutdown(ctx context.Context, req Request) error {
	wantNames := make(map[string]bool, len(req.Buckets))
	for _, b := range req.Buckets {
		wantNames[b.Name] = true
	}

	timeout := o.cfg.BucketsShutdownTimeout(len(req.Buckets))
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := fanout.Do(waitCtx, req.Keep, req.Keep.Size(), func(ctx context.Context, node structs.NodeID) error {
		for {
			active, err := o.client.ListActiveBuckets(ctx, node)
			if err != nil {
				return err
			}
			if onlyWanted(active, wantNames) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	})
	if !res.OK() {
		failed := res.Down.Union(structs.NewNodeSet(keysOf(res.Bad)...))
		return &BucketsShutdownWaitFailed{Nodes: failed}
	}
	return nil
}

func onlyWanted(active []string, want map[string]bool) bool {
	for _, b := range active {
		if !want[b] {
			return false
		}
	}
	return true
}

func keysOf(m map[structs.NodeID]error) []structs.NodeID {
	out := make([]structs.NodeID, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	return out
}

// PlanDeltaRecovery runs the delta recovery planner for the recovering
// node set against buckets, using each node's persisted failover vbucket
// record and every requested bucket's map history. It returns
// ErrDeltaRecoveryNotPossible if recovering is non-empty and the planner
// could not find a past map satisfying every requested bucket.
func (o *Orchestrator) PlanDeltaRecovery(ctx context.Context, keep, recovering structs.NodeSet, buckets []structs.BucketConfig, requested recovery.Requested) ([]recovery.Plan, error) {
	if recovering.Empty() {
		return nil, nil
	}

	failoverVbuckets := make(structs.FailoverVbuckets, recovering.Size())
	for _, n := range recovering.Slice() {
		rec := structs.FailoverRecord{}
		if v, _, err := o.store.Get(ctx, configstore.NodeKey(configstore.KeyNodeFailoverVbuckets, n)); err == nil {
			if r, ok := v.(structs.FailoverRecord); ok {
				rec = r
			}
		}
		failoverVbuckets[n] = rec
	}

	required := 0
	history := make(map[string]*structs.MapHistory, len(buckets))
	for _, b := range buckets {
		if b.Type != structs.BucketMembase || !requested.Wants(b.Name) {
			continue
		}
		required++
		h, err := o.store.PastVbucketMaps(ctx, b.Name)
		if err != nil {
			h = structs.NewMapHistory(o.cfg.MapHistorySize)
		}
		history[b.Name] = h
	}

	plans := o.planner.BuildDeltaRecoveryBuckets(keep, recovering, buckets, failoverVbuckets, history, requested)
	if plans == nil && required > 0 {
		return nil, ErrDeltaRecoveryNotPossible
	}
	return plans, nil
}

// applyDeltaRecovery atomically writes each plan's map as its bucket's
// delta-recovery map, clears recovery markers on the recovering nodes and
// promotes them to active, then propagates the config. It does not write
// transitional bucket configs (servers or map) and does not wait for the
// buckets to become ready on the recovering nodes.
func (o *Orchestrator) applyDeltaRecovery(ctx context.Context, req Request) error {
	var changes []configstore.Change
	for _, plan := range req.DeltaPlans {
		changes = append(changes,
			configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketDeltaRecoveryMap, plan.Bucket), Value: plan.Map},
		)
	}
	for _, n := range req.DeltaRecoveringNodes.Slice() {
		changes = append(changes,
			configstore.Change{Key: configstore.NodeKey(configstore.KeyNodeRecoveryType, n), Value: structs.RecoveryNone},
			configstore.Change{Key: configstore.NodeKey(configstore.KeyNodeMembership, n), Value: structs.MembershipActive},
		)
	}
	if err := o.store.SetMultiple(ctx, changes...); err != nil {
		return fmt.Errorf("apply delta recovery configs: %w", err)
	}
	if err := o.store.SyncAnnouncements(ctx); err != nil {
		return fmt.Errorf("sync delta recovery announcements: %w", err)
	}
	return nil
}

// rebalanceBucket drives one bucket from its current map to a freshly
// computed or recovered target map.
func (o *Orchestrator) rebalanceBucket(ctx context.Context, req Request, b structs.BucketConfig) error {
	servers := req.Keep.Union(b.Servers.Intersect(req.Eject))

	if b.Type == structs.BucketMemcached {
		b.Servers = servers
		return o.store.Set(ctx, configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketServers, b.Name), Value: servers})
	}

	if _, err := o.janitor.Sweep(ctx, b.Name, b.Map, servers); err != nil {
		return &PreRebalanceJanitorRunFailed{Buckets: []string{b.Name}}
	}

	target, opts, err := o.generateTarget(ctx, req, b, servers)
	if err != nil {
		return err
	}

	if err := o.store.Set(ctx, configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketFastForwardMap, b.Name), Value: target}); err != nil {
		return fmt.Errorf("stage fast-forward map: %w", err)
	}
	o.publish(eventbus.KindBucketReady, b.Name, "", "fast_forward_staged")

	mv := mover.New(o.client, b.Map, target, mover.Options{
		Bucket:      b.Name,
		Parallelism: o.cfg.MoveParallelism,
		Logger:      o.logger,
		Progress: func(progress map[structs.NodeID]float64) {
			o.logger.Trace("rebalance progress", "bucket", b.Name, "progress", progress)
		},
	})
	outcome := mv.Run(ctx)
	if outcome.Err != nil {
		return &MoverCrashed{Bucket: b.Name, Reason: outcome.Err}
	}
	if outcome.Stopped {
		return ErrStopped
	}

	if err := verifyReplication(ctx, o.client, b.Name, target, req.Keep); err != nil {
		return err
	}

	if err := o.store.SetMultiple(ctx,
		configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketMap, b.Name), Value: structs.HistoryEntry{Map: target, Opts: opts}},
		configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketServers, b.Name), Value: servers},
		configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketMapOptsHash, b.Name), Value: opts.Hash()},
		configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketFastForwardMap, b.Name), Value: (*structs.VBucketMap)(nil)},
		configstore.Change{Key: configstore.BucketKey(configstore.KeyBucketDeltaRecoveryMap, b.Name), Value: (*structs.VBucketMap)(nil)},
	); err != nil {
		return fmt.Errorf("commit bucket %s: %w", b.Name, err)
	}

	if !b.Servers.Intersect(req.Eject).Empty() {
		select {
		case <-time.After(o.cfg.RebalanceOutDelay):
		case <-ctx.Done():
			return ErrStopped
		}
	}

	o.publish(eventbus.KindBucketReady, b.Name, "", "committed")
	return nil
}

// generateTarget resolves the map to drive this bucket toward: a staged,
// still-compatible delta-recovery plan if one applies, otherwise a freshly
// generated balanced map.
func (o *Orchestrator) generateTarget(ctx context.Context, req Request, b structs.BucketConfig, servers structs.NodeSet) (structs.VBucketMap, structs.MapOpts, error) {
	history, err := o.store.PastVbucketMaps(ctx, b.Name)
	if err != nil {
		history = structs.NewMapHistory(o.cfg.MapHistorySize)
	}

	genOpts := vbmap.GenerateOpts{
		NumReplicas: b.NumReplicas,
		NumVbuckets: b.NumVbuckets,
		Groups:      req.Groups,
		History:     history,
	}
	for _, plan := range req.DeltaPlans {
		if plan.Bucket == b.Name {
			genOpts.Delta = &vbmap.DeltaInput{Map: plan.Map, Opts: plan.Opts}
		}
	}

	return vbmap.GenerateMap(b.Map, servers, genOpts)
}

// postSync re-propagates config to every keep-node once every bucket has
// committed its new map, then -- if any node is about to be ejected --
// waits out the longest eject delay of any service so dependent services
// have a chance to drain before ejectComplement runs.
func (o *Orchestrator) postSync(ctx context.Context, req Request) error {
	if _, err := o.store.SynchronizeRemote(ctx, req.Keep); err != nil {
		return err
	}

	if req.Eject.Empty() || o.cfg.MaxServiceEjectDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(o.cfg.MaxServiceEjectDelay):
	case <-ctx.Done():
		return ErrStopped
	}
	return nil
}

// ejectComplement evicts every node in Eject except self.
func (o *Orchestrator) ejectComplement(ctx context.Context, req Request) {
	for _, n := range req.Eject.Slice() {
		if n == req.SelfNode {
			continue
		}
		_ = o.store.Set(ctx, configstore.Change{Key: configstore.NodeKey(configstore.KeyNodeMembership, n), Value: structs.MembershipInactiveAdded})
	}
}

func (o *Orchestrator) publish(kind eventbus.Kind, bucket string, node structs.NodeID, reason string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Kind: kind, Bucket: bucket, Node: node, Reason: reason})
}
