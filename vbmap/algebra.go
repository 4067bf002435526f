// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package vbmap implements the pure vbucket map algebra (promotion,
// distance, balance predicates) and the balancing map generator. Nothing
// in this package performs I/O or logs; every function is deterministic
// given its inputs, which is what makes the generator's tie-breaking
// testable across independent runs.
package vbmap

import (
	"github.com/nkvstore/orchestrator/structs"
)

// PromoteReplicas removes every node in dead from each chain of m, shifting
// surviving entries left to close the gap and padding the tail with
// Unassigned to preserve chain length. If a chain becomes entirely
// Unassigned the whole chain is left as Unassigned (the vbucket has no
// owner: a data-loss condition the caller must detect separately).
func PromoteReplicas(m structs.VBucketMap, dead structs.NodeSet) structs.VBucketMap {
	out := make(structs.VBucketMap, len(m))
	for i, chain := range m {
		out[i] = promoteChain(chain, dead)
	}
	return out
}

func promoteChain(chain structs.Chain, dead structs.NodeSet) structs.Chain {
	next := make(structs.Chain, 0, len(chain))
	for _, n := range chain {
		if n == structs.Unassigned {
			continue
		}
		if dead != nil && dead.Contains(n) {
			continue
		}
		next = append(next, n)
	}
	for len(next) < len(chain) {
		next = append(next, structs.Unassigned)
	}
	return next
}

// PromoteReplicasForGracefulFailover behaves like PromoteReplicas for every
// node except target: target is never deleted, only demoted to the tail
// position of any chain it still appears in. This drains traffic away from
// target without discarding its data, so a subsequent hard failover of
// target loses nothing extra. Target leaves the head of every chain
// longer than one; in a chain of length one it stays the head.
func PromoteReplicasForGracefulFailover(m structs.VBucketMap, target structs.NodeID) structs.VBucketMap {
	out := make(structs.VBucketMap, len(m))
	for i, chain := range m {
		out[i] = demoteInChain(chain, target)
	}
	return out
}

func demoteInChain(chain structs.Chain, target structs.NodeID) structs.Chain {
	if !chain.Contains(target) {
		return chain.Clone()
	}
	next := make(structs.Chain, 0, len(chain))
	for _, n := range chain {
		if n != target {
			next = append(next, n)
		}
	}
	next = append(next, target)
	for len(next) < len(chain) {
		next = append(next, structs.Unassigned)
	}
	return next[:len(chain)]
}

// VbucketMovements counts the chain positions at which a and b differ. It
// is a cheap distance measure used for progress logging, not for
// correctness: two maps that are "the same" after a tie-break reshuffle
// still count full distance here.
func VbucketMovements(a, b structs.VBucketMap) int {
	n := 0
	for i := range a {
		var bc structs.Chain
		if i < len(b) {
			bc = b[i]
		}
		n += chainDistance(a[i], bc)
	}
	return n
}

func chainDistance(a, b structs.Chain) int {
	n := 0
	l := len(a)
	if len(b) > l {
		l = len(b)
	}
	for i := 0; i < l; i++ {
		var av, bv structs.NodeID
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			n++
		}
	}
	return n
}

// IsTriviallyCompatiblePastMap reports whether past can be used as the
// rebalance target without regeneration: every chain refers only to nodes
// in keep, the option hashes agree (under the same tag policy -- both nil
// or both present), and the vbucket counts agree. curMap is unused beyond
// vbucket-count comparison; it is accepted to mirror the signature
// and to leave room for future compatibility checks against the live map.
func IsTriviallyCompatiblePastMap(keep structs.NodeSet, curMap structs.VBucketMap, curOpts structs.MapOpts, past structs.VBucketMap, pastOpts structs.MapOpts) bool {
	if len(past) != len(curMap) {
		return false
	}
	if (curOpts.Tags == nil) != (pastOpts.Tags == nil) {
		return false
	}
	if curOpts.Hash() != pastOpts.Hash() {
		return false
	}
	for _, chain := range past {
		for _, n := range chain {
			if n != structs.Unassigned && !keep.Contains(n) {
				return false
			}
		}
	}
	return true
}

// Unbalanced reports whether m's placement across servers fails the
// balance predicate: either some chain has an Unassigned entry in a
// position that should be filled (index < min(NR+1, |servers|)), or the
// per-node master or replica counts differ by more than one across
// servers.
func Unbalanced(m structs.VBucketMap, servers structs.NodeSet) bool {
	if len(m) == 0 {
		return false
	}
	nr1 := len(m[0])
	want := nr1
	if servers.Size() < want {
		want = servers.Size()
	}

	for _, chain := range m {
		for i := 0; i < want && i < len(chain); i++ {
			if chain[i] == structs.Unassigned {
				return true
			}
		}
	}

	if spread(m.Masters(servers)) {
		return true
	}
	if spread(m.Replicas(servers)) {
		return true
	}
	return false
}

func spread(counts map[structs.NodeID]int) bool {
	if len(counts) == 0 {
		return false
	}
	min, max := -1, -1
	for _, c := range counts {
		if min == -1 || c < min {
			min = c
		}
		if max == -1 || c > max {
			max = c
		}
	}
	return max-min > 1
}
