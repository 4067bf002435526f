// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package recovery implements the Delta Recovery Planner: it locates a
// historical vbucket map compatible with a set of recovering nodes and
// their retained vbucket sets, and builds the transitional bucket configs
// that let the cluster re-admit those nodes without a full data copy.
package recovery

import (
	"github.com/hashicorp/go-hclog"
	"github.com/nkvstore/orchestrator/structs"
)

// Plan is the outcome of successfully planning delta recovery for one
// bucket: the past map to use as the rebalance target and the options it
// was generated under.
type Plan struct {
	Bucket string
	Map    structs.VBucketMap
	Opts   structs.MapOpts
}

// Planner locates past maps compatible with a recovering node set.
type Planner struct {
	logger hclog.Logger
}

// New constructs a Planner.
func New(logger hclog.Logger) *Planner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Planner{logger: logger.Named("delta-recovery")}
}

// FindMatchingPastMaps filters history down to maps congruent with
// current: same vbucket count and every referenced node a member of all.
func FindMatchingPastMaps(all structs.NodeSet, current structs.VBucketMap, currentOpts structs.MapOpts, history *structs.MapHistory) []structs.HistoryEntry {
	if history == nil {
		return nil
	}
	var out []structs.HistoryEntry
	for _, e := range history.Entries() {
		if e.Map.NumVbuckets() != current.NumVbuckets() {
			continue
		}
		if congruent(e.Map, all) {
			out = append(out, e)
		}
	}
	return out
}

func congruent(m structs.VBucketMap, all structs.NodeSet) bool {
	for _, chain := range m {
		for _, n := range chain {
			if n != structs.Unassigned && !all.Contains(n) {
				return false
			}
		}
	}
	return true
}

// vbucketsFor returns the vbucket ids at which node appears anywhere in m.
// The ids are collected from the last vbucket to the first into a set, so
// the walk order does not affect the result.
func vbucketsFor(m structs.VBucketMap, node structs.NodeID) structs.VbucketSet {
	ids := make([]int, 0)
	for vb := len(m) - 1; vb >= 0; vb-- {
		if m[vb].Contains(node) {
			ids = append(ids, vb)
		}
	}
	return structs.NewVbucketSet(ids...)
}

// PlanNode finds a past map under which node's occupied vbuckets exactly
// equal its recorded failover_vbuckets set. Candidates are tried in the
// order given (FindMatchingPastMaps keeps history's oldest-first order);
// the first candidate that satisfies the equality test wins.
func (p *Planner) PlanNode(bucket string, node structs.NodeID, recorded structs.VbucketSet, candidates []structs.HistoryEntry) (*Plan, bool) {
	for _, c := range candidates {
		got := vbucketsFor(c.Map, node)
		if got.Equal(recorded) {
			return &Plan{Bucket: bucket, Map: c.Map, Opts: c.Opts}, true
		}
	}
	return nil, false
}

// Requested selects which buckets a delta-recovery request names: either
// every membase bucket ("all") or an explicit set of bucket names.
type Requested struct {
	All   bool
	Names map[string]bool
}

// Wants reports whether bucket must be planned for this request.
func (r Requested) Wants(bucket string) bool {
	if r.All {
		return true
	}
	return r.Names[bucket]
}

// BuildDeltaRecoveryBuckets runs the planner over every membase bucket
// config that requested wants; other buckets are skipped. Each planned
// bucket needs one past map under which every node in recovering occupies
// exactly its recorded vbuckets for that bucket; if any planned bucket has
// no such map, the whole delta recovery is rejected and
// BuildDeltaRecoveryBuckets returns nil.
func (p *Planner) BuildDeltaRecoveryBuckets(all, recovering structs.NodeSet, buckets []structs.BucketConfig, failover structs.FailoverVbuckets, history map[string]*structs.MapHistory, requested Requested) []Plan {
	var plans []Plan
	for _, b := range buckets {
		if b.Type != structs.BucketMembase {
			continue
		}
		if !requested.Wants(b.Name) {
			continue
		}

		currentOpts := b.Opts()
		candidates := FindMatchingPastMaps(all, b.Map, currentOpts, history[b.Name])

		plan, ok := p.planBucket(b, recovering, failover, candidates)
		if !ok {
			p.logger.Warn("no compatible past map found, rejecting delta recovery", "bucket", b.Name)
			return nil
		}
		plans = append(plans, plan)
	}
	return plans
}

// planBucket finds a single past map that simultaneously satisfies every
// recovering node's recorded vbucket set for this bucket.
func (p *Planner) planBucket(b structs.BucketConfig, recovering structs.NodeSet, failover structs.FailoverVbuckets, candidates []structs.HistoryEntry) (Plan, bool) {
	for _, c := range candidates {
		allMatch := true
		for _, n := range recovering.Slice() {
			recorded := failover.RecordFor(n, b.Name)
			if !vbucketsFor(c.Map, n).Equal(recorded) {
				allMatch = false
				break
			}
		}
		if allMatch {
			return Plan{Bucket: b.Name, Map: c.Map, Opts: c.Opts}, true
		}
	}
	return Plan{}, false
}

// BuildTransitionalConfig builds the transitional bucket config for a
// planned bucket: servers becomes D union the
// original servers, and each chain lists the non-D entries of the current
// chain followed by the D members of the target chain, padded with
// Unassigned to the current chain's length. D members that do not fit in
// that length are left out.
func BuildTransitionalConfig(b structs.BucketConfig, plan Plan, d structs.NodeSet) structs.BucketConfig {
	out := b
	out.Servers = d.Union(b.Servers)
	out.Map = make(structs.VBucketMap, len(b.Map))

	for vb := range b.Map {
		var target structs.Chain
		if vb < len(plan.Map) {
			target = plan.Map[vb]
		}
		out.Map[vb] = transitionalChain(b.Map[vb], target, d, len(b.Map[vb]))
	}
	return out
}

func transitionalChain(current, target structs.Chain, d structs.NodeSet, length int) structs.Chain {
	next := make(structs.Chain, 0, length)
	for _, n := range current {
		if n != structs.Unassigned && !d.Contains(n) {
			next = append(next, n)
		}
	}
	for _, n := range target {
		if n != structs.Unassigned && d.Contains(n) && !next.Contains(n) {
			next = append(next, n)
		}
	}
	for len(next) < length {
		next = append(next, structs.Unassigned)
	}
	return next[:length]
}
