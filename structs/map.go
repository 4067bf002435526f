// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package structs

// Chain is the ordered node list for one vbucket: index 0 is the master,
// the remainder are replicas in replication order. A Chain always has
// length NR+1 for its bucket; unused tail positions are Unassigned.
type Chain []NodeID

// Master returns the chain's head, or Unassigned if the chain is empty.
func (c Chain) Master() NodeID {
	if len(c) == 0 {
		return Unassigned
	}
	return c[0]
}

// Contains reports whether node appears anywhere in the chain.
func (c Chain) Contains(node NodeID) bool {
	for _, n := range c {
		if n == node {
			return true
		}
	}
	return false
}

// IndexOf returns the position of node in the chain, or -1.
func (c Chain) IndexOf(node NodeID) int {
	for i, n := range c {
		if n == node {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy of the chain.
func (c Chain) Clone() Chain {
	out := make(Chain, len(c))
	copy(out, c)
	return out
}

// Equal reports whether two chains hold identical node sequences.
func (c Chain) Equal(o Chain) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i] != o[i] {
			return false
		}
	}
	return true
}

// VBucketMap is the full placement for a bucket: one Chain per vbucket id,
// 0..NV-1.
type VBucketMap []Chain

// Clone deep-copies the map.
func (m VBucketMap) Clone() VBucketMap {
	out := make(VBucketMap, len(m))
	for i, c := range m {
		out[i] = c.Clone()
	}
	return out
}

// NumVbuckets is NV, the number of chains in the map.
func (m VBucketMap) NumVbuckets() int {
	return len(m)
}

// NumReplicas is NR, derived from the length of the first chain. Callers
// must not mix chain lengths within a single map; NewVBucketMap enforces
// this at construction.
func (m VBucketMap) NumReplicas() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0]) - 1
}

// NewVBucketMap allocates an all-Unassigned map with nv vbuckets and chains
// of length nr+1.
func NewVBucketMap(nv, nr int) VBucketMap {
	m := make(VBucketMap, nv)
	for i := range m {
		m[i] = make(Chain, nr+1)
	}
	return m
}

// Masters returns, for every node in servers, the count of vbuckets for
// which it is the chain head.
func (m VBucketMap) Masters(servers NodeSet) map[NodeID]int {
	counts := make(map[NodeID]int, servers.Size())
	for _, n := range servers.Slice() {
		counts[n] = 0
	}
	for _, chain := range m {
		if master := chain.Master(); master != Unassigned {
			counts[master]++
		}
	}
	return counts
}

// Replicas returns, for every node in servers, the count of chain
// positions (excluding the master) at which it appears.
func (m VBucketMap) Replicas(servers NodeSet) map[NodeID]int {
	counts := make(map[NodeID]int, servers.Size())
	for _, n := range servers.Slice() {
		counts[n] = 0
	}
	for _, chain := range m {
		for i, n := range chain {
			if i == 0 || n == Unassigned {
				continue
			}
			counts[n]++
		}
	}
	return counts
}
