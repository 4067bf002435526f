// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package vbmap

import (
	"testing"

	"github.com/nkvstore/orchestrator/structs"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func roundRobinInitial(nv, nr int, nodes []structs.NodeID) structs.VBucketMap {
	m := make(structs.VBucketMap, nv)
	for vb := 0; vb < nv; vb++ {
		c := make(structs.Chain, nr+1)
		for slot := 0; slot < nr+1; slot++ {
			c[slot] = nodes[(vb+slot)%len(nodes)]
		}
		m[vb] = c
	}
	return m
}

// TestGenerateMap_S1 exercises scenario S1: 3->4 node rebalance, 1024
// vbuckets, 1 replica. Expected: each node owns 256 masters +-1 and the
// final map is balanced.
func TestGenerateMap_S1(t *testing.T) {
	const nv = 1024
	n1, n2, n3, n4 := structs.NodeID("n1"), structs.NodeID("n2"), structs.NodeID("n3"), structs.NodeID("n4")
	initial := roundRobinInitial(nv, 1, []structs.NodeID{n1, n2, n3})

	keep := structs.NewNodeSet(n1, n2, n3, n4)
	got, _, err := GenerateMap(initial, keep, GenerateOpts{NumReplicas: 1, NumVbuckets: nv})
	require.NoError(t, err)

	masters := got.Masters(keep)
	for n, c := range masters {
		require.InDeltaf(t, nv/keep.Size(), c, 1, "node %s has %d masters", n, c)
	}
	require.False(t, Unbalanced(got, keep))
}

func TestGenerateMap_IdempotentOnBalancedMap(t *testing.T) {
	const nv = 64
	n1, n2, n3 := structs.NodeID("n1"), structs.NodeID("n2"), structs.NodeID("n3")
	keep := structs.NewNodeSet(n1, n2, n3)
	initial := roundRobinInitial(nv, 1, []structs.NodeID{n1, n2, n3})

	got, _, err := GenerateMap(initial, keep, GenerateOpts{NumReplicas: 1, NumVbuckets: nv})
	require.NoError(t, err)
	require.False(t, Unbalanced(got, keep))

	again, _, err := GenerateMap(got, keep, GenerateOpts{NumReplicas: 1, NumVbuckets: nv})
	require.NoError(t, err)
	require.Equal(t, 0, VbucketMovements(got, again))
}

func TestGenerateMap_DeltaRecoveryMapHonoredUnchanged(t *testing.T) {
	const nv = 4
	n1, n2 := structs.NodeID("n1"), structs.NodeID("n2")
	keep := structs.NewNodeSet(n1, n2)
	drMap := roundRobinInitial(nv, 1, []structs.NodeID{n1, n2})
	opts := structs.MapOpts{NumReplicas: 1, NumVbuckets: nv}

	got, gotOpts, err := GenerateMap(drMap, keep, GenerateOpts{
		NumReplicas: 1,
		NumVbuckets: nv,
		Delta:       &DeltaInput{Map: drMap, Opts: opts},
	})
	require.NoError(t, err)
	require.Equal(t, drMap, got)
	require.Equal(t, opts.Hash(), gotOpts.Hash())
}

// TestGenerateMap_BalancePropertyRapid is a property-based test: for
// |K| >= NR+1 and no tags, every node ends up within one master and one
// replica of the ideal share.
func TestGenerateMap_BalancePropertyRapid(t *testing.T) {
	rapid.Check(t, func(tt *rapid.T) {
		numNodes := rapid.IntRange(2, 8).Draw(tt, "numNodes")
		nr := rapid.IntRange(0, numNodes-1).Draw(tt, "nr")
		nv := rapid.IntRange(numNodes, 256).Draw(tt, "nv")

		nodes := make([]structs.NodeID, numNodes)
		for i := range nodes {
			nodes[i] = structs.NodeID(rapid.StringMatching(`n[0-9]`).Draw(tt, "node") + string(rune('a'+i)))
		}
		keep := structs.NewNodeSet(nodes...)
		initial := roundRobinInitial(nv, nr, nodes)

		got, _, err := GenerateMap(initial, keep, GenerateOpts{NumReplicas: nr, NumVbuckets: nv})
		if err != nil {
			tt.Fatal(err)
		}

		masters := got.Masters(keep)
		wantMaster := float64(nv) / float64(numNodes)
		for _, c := range masters {
			if diff := float64(c) - wantMaster; diff > 1 || diff < -1 {
				tt.Fatalf("master count %d too far from ideal %.2f", c, wantMaster)
			}
		}

		replicas := got.Replicas(keep)
		wantReplica := float64(nv*nr) / float64(numNodes)
		for _, c := range replicas {
			if diff := float64(c) - wantReplica; diff > 1 || diff < -1 {
				tt.Fatalf("replica count %d too far from ideal %.2f", c, wantReplica)
			}
		}

		for _, chain := range got {
			require.Len(tt, chain, nr+1)
			seen := map[structs.NodeID]bool{}
			for _, n := range chain {
				if n == structs.Unassigned {
					continue
				}
				require.False(tt, seen[n], "duplicate node in chain")
				seen[n] = true
				require.True(tt, keep.Contains(n))
			}
		}
	})
}
