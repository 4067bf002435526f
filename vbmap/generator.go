// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package vbmap

import (
	"sort"

	"github.com/hashicorp/go-set/v3"
	"github.com/nkvstore/orchestrator/structs"
)

// GenerateOpts bundles the inputs a caller must supply to GenerateMap
// beyond the current map and keep-set.
type GenerateOpts struct {
	NumReplicas int
	NumVbuckets int
	Groups      structs.ServerGroups
	History     *structs.MapHistory
	Delta       *DeltaInput // non-nil when a delta-recovery map is staged
}

// DeltaInput carries the staged delta_recovery_map and the options it was
// generated under.
type DeltaInput struct {
	Map  structs.VBucketMap
	Opts structs.MapOpts
}

// GenerateMap is the top-level map generator: it builds the tag vector,
// honors a compatible staged delta-recovery map
// unchanged, and otherwise runs the balancing generator. Ties are broken
// deterministically by (vbucket_id, node_id) order so independent runs on
// identical inputs produce identical maps.
func GenerateMap(current structs.VBucketMap, keep structs.NodeSet, opts GenerateOpts) (structs.VBucketMap, structs.MapOpts, error) {
	tags, err := structs.BuildTags(opts.Groups, keep)
	if err != nil {
		return nil, structs.MapOpts{}, err
	}

	curOpts := structs.MapOpts{NumReplicas: opts.NumReplicas, NumVbuckets: opts.NumVbuckets, Tags: tags}

	if opts.Delta != nil && IsTriviallyCompatiblePastMap(keep, current, curOpts, opts.Delta.Map, opts.Delta.Opts) {
		return opts.Delta.Map.Clone(), opts.Delta.Opts, nil
	}

	m := balance(current, keep, curOpts, opts.History)
	return m, curOpts, nil
}

// GenerateInitialMap is the special case of GenerateMap where current is NV
// copies of an all-Unassigned chain.
func GenerateInitialMap(keep structs.NodeSet, opts GenerateOpts) (structs.VBucketMap, structs.MapOpts, error) {
	empty := structs.NewVBucketMap(opts.NumVbuckets, opts.NumReplicas)
	return GenerateMap(empty, keep, opts)
}

// balance produces a new map from current, drawing every chain from keep,
// minimizing movement versus current, spreading masters and replicas
// evenly, preferring distinct server-group tags per chain when tags is
// non-nil, and preferring reuse of recent history chains over the live
// current map. Vbuckets are processed in id order and nodes are always
// ranked with a stable (load, nodeID) comparator, which is what makes two
// runs on identical input produce an identical map.
func balance(current structs.VBucketMap, keep structs.NodeSet, opts structs.MapOpts, history *structs.MapHistory) structs.VBucketMap {
	nodes := keep.Slice()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	nv := opts.NumVbuckets
	chainLen := opts.NumReplicas + 1

	masterLoad := make(map[structs.NodeID]int, len(nodes))
	replicaLoad := make(map[structs.NodeID]int, len(nodes))
	for _, n := range nodes {
		masterLoad[n] = 0
		replicaLoad[n] = 0
	}

	reuse := bestReusableChains(current, history, nv, chainLen)

	capMaster := ceilDiv(nv, len(nodes))
	capReplica := ceilDiv(nv*opts.NumReplicas, len(nodes))

	out := make(structs.VBucketMap, nv)
	for vb := 0; vb < nv; vb++ {
		candidate := filterToKeep(reuse[vb], keep)
		out[vb] = buildChain(candidate, nodes, chainLen, opts.Tags, masterLoad, replicaLoad, capMaster, capReplica)
		accountChain(out[vb], masterLoad, replicaLoad)
	}
	return out
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// bestReusableChains returns, per vbucket id, the chain to prefer as a
// starting point: the most recent history entry with a matching vbucket
// count if one exists, otherwise the live current map. History is
// favored because reusing a chain that used to be valid minimizes data
// movement more often than starting from whatever the map looked like
// immediately before this rebalance (which may itself already be
// mid-transition).
func bestReusableChains(current structs.VBucketMap, history *structs.MapHistory, nv, chainLen int) structs.VBucketMap {
	if history != nil {
		entries := history.Entries()
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if e.Map.NumVbuckets() == nv {
				return e.Map
			}
		}
	}
	if len(current) == nv {
		return current
	}
	return structs.NewVBucketMap(nv, chainLen-1)
}

func filterToKeep(chain structs.Chain, keep structs.NodeSet) structs.Chain {
	out := make(structs.Chain, 0, len(chain))
	seen := set.New[structs.NodeID](len(chain))
	for _, n := range chain {
		if n == structs.Unassigned || !keep.Contains(n) || seen.Contains(n) {
			continue
		}
		seen.Insert(n)
		out = append(out, n)
	}
	return out
}

// buildChain assembles one chainLen-long chain for a vbucket, preferring
// members of preferred (the reuse candidate) before falling back to the
// globally least-loaded nodes, and preferring tag-distinct nodes whenever
// tags is non-nil and a tag-distinct candidate remains.
func buildChain(preferred structs.Chain, nodes []structs.NodeID, chainLen int, tags structs.Tags, masterLoad, replicaLoad map[structs.NodeID]int, capMaster, capReplica int) structs.Chain {
	chain := make(structs.Chain, 0, chainLen)
	used := set.New[structs.NodeID](chainLen)
	usedTags := set.New[structs.GroupUUID](chainLen)

	// pick only honors the reuse candidate while doing so keeps that node
	// under its fair-share cap; once a node has its share of masters (or
	// replicas), later vbuckets that would have reused it fall through to
	// the least-loaded node instead, which is what lets a newly added node
	// pick up its share of the load instead of sitting idle forever.
	pick := func(preferredCandidate structs.NodeID, load map[structs.NodeID]int, limit int) structs.NodeID {
		if preferredCandidate != "" && !used.Contains(preferredCandidate) &&
			tagOK(preferredCandidate, tags, usedTags) && load[preferredCandidate] < limit {
			return preferredCandidate
		}
		return leastLoaded(nodes, load, used, tags, usedTags)
	}

	for slot := 0; slot < chainLen; slot++ {
		var preferredCandidate structs.NodeID
		if slot < len(preferred) {
			preferredCandidate = preferred[slot]
		}
		load := replicaLoad
		limit := capReplica
		if slot == 0 {
			load = masterLoad
			limit = capMaster
		}
		n := pick(preferredCandidate, load, limit)
		if n == "" {
			chain = append(chain, structs.Unassigned)
			continue
		}
		chain = append(chain, n)
		used.Insert(n)
		if tags != nil {
			if g, ok := tags[n]; ok {
				usedTags.Insert(g)
			}
		}
	}
	return chain
}

func tagOK(n structs.NodeID, tags structs.Tags, usedTags *set.Set[structs.GroupUUID]) bool {
	if tags == nil {
		return true
	}
	g, ok := tags[n]
	if !ok {
		return true
	}
	return !usedTags.Contains(g)
}

// leastLoaded returns the unused node with the smallest load, preferring
// tag-distinct candidates first, breaking ties by node id so the result is
// deterministic.
func leastLoaded(nodes []structs.NodeID, load map[structs.NodeID]int, used *set.Set[structs.NodeID], tags structs.Tags, usedTags *set.Set[structs.GroupUUID]) structs.NodeID {
	best := ""
	bestTagOK := false
	bestLoad := 0
	for _, n := range nodes {
		if used.Contains(n) {
			continue
		}
		ok := tagOK(n, tags, usedTags)
		l := load[n]
		if best == "" {
			best, bestTagOK, bestLoad = n, ok, l
			continue
		}
		// Prefer a tag-distinct candidate over a tag-conflicting one even
		// if it carries slightly more load; among equally tag-eligible
		// candidates prefer the least loaded, breaking ties by node id
		// (nodes is already sorted, so the first equal-load candidate wins).
		if ok && !bestTagOK {
			best, bestTagOK, bestLoad = n, ok, l
			continue
		}
		if ok == bestTagOK && l < bestLoad {
			best, bestLoad = n, l
		}
	}
	return best
}

// accountChain updates the running master/replica load counters for a
// freshly assigned chain.
func accountChain(chain structs.Chain, masterLoad, replicaLoad map[structs.NodeID]int) {
	for i, n := range chain {
		if n == structs.Unassigned {
			continue
		}
		if i == 0 {
			masterLoad[n]++
		} else {
			replicaLoad[n]++
		}
	}
}
