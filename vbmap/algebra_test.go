// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package vbmap

import (
	"testing"

	"github.com/nkvstore/orchestrator/structs"
	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/require"
)

func chain(ids ...structs.NodeID) structs.Chain { return structs.Chain(ids) }

const (
	n1 = structs.NodeID("n1")
	n2 = structs.NodeID("n2")
	n3 = structs.NodeID("n3")
	u  = structs.Unassigned
)

// TestPromoteReplicas_S2 exercises hard failover of n2 with replicas=1,
// chain [n2, n3] -> [n3, empty].
func TestPromoteReplicas_S2(t *testing.T) {
	m := structs.VBucketMap{chain(n2, n3)}
	got := PromoteReplicas(m, structs.NewNodeSet(n2))
	require.Equal(t, chain(n3, u), got[0])
}

// TestPromoteReplicas_S3 exercises scenario S3: replicas=0, failover of n1
// over chains [[n1],[n2],[n1]] yields [[empty],[n2],[empty]].
func TestPromoteReplicas_S3(t *testing.T) {
	m := structs.VBucketMap{chain(n1), chain(n2), chain(n1)}
	got := PromoteReplicas(m, structs.NewNodeSet(n1))
	require.Equal(t, structs.VBucketMap{chain(u), chain(n2), chain(u)}, got)
}

func TestPromoteReplicas_PreservesOrderAndNoDead(t *testing.T) {
	m := structs.VBucketMap{
		chain(n1, n2, n3),
		chain(n2, n1, n3),
	}
	dead := structs.NewNodeSet(n2)
	got := PromoteReplicas(m, dead)

	for i, c := range got {
		for _, n := range c {
			must.NotEq(t, n2, n, must.Sprintf("chain %d still contains dead node", i))
		}
	}
	require.Equal(t, chain(n1, n3, u), got[0])
	require.Equal(t, chain(n1, n3, u), got[1])
}

func TestPromoteReplicasForGracefulFailover_NeverHead(t *testing.T) {
	m := structs.VBucketMap{
		chain(n1, n2, n3),
		chain(n2, n1, n3),
		chain(n3, n2, n1),
	}
	got := PromoteReplicasForGracefulFailover(m, n1)

	for i, c := range got {
		must.NotEq(t, n1, c.Master(), must.Sprintf("chain %d has n1 as head", i))
		must.True(t, c.Contains(n1), must.Sprint("n1 must not be deleted"))
	}
	// n1 was head of chain 0: it should now be demoted to the tail.
	require.Equal(t, n1, got[0][len(got[0])-1])
}

func TestVbucketMovements(t *testing.T) {
	a := structs.VBucketMap{chain(n1, n2), chain(n2, n3)}
	b := structs.VBucketMap{chain(n1, n2), chain(n3, n2)}
	require.Equal(t, 2, VbucketMovements(a, b))
}

func TestUnbalanced(t *testing.T) {
	servers := structs.NewNodeSet(n1, n2, n3)

	balanced := structs.VBucketMap{
		chain(n1, n2), chain(n2, n3), chain(n3, n1),
	}
	require.False(t, Unbalanced(balanced, servers))

	skewed := structs.VBucketMap{
		chain(n1, n2), chain(n1, n3), chain(n1, n2),
	}
	require.True(t, Unbalanced(skewed, servers))

	gappy := structs.VBucketMap{
		chain(n1, u), chain(n2, u), chain(n3, u),
	}
	require.True(t, Unbalanced(gappy, servers))
}

func TestIsTriviallyCompatiblePastMap(t *testing.T) {
	keep := structs.NewNodeSet(n1, n2, n3)
	opts := structs.MapOpts{NumReplicas: 1, NumVbuckets: 2}
	past := structs.VBucketMap{chain(n1, n2), chain(n2, n3)}
	cur := structs.VBucketMap{chain(n3, n1), chain(n1, n2)}

	require.True(t, IsTriviallyCompatiblePastMap(keep, cur, opts, past, opts))

	smallKeep := structs.NewNodeSet(n1, n2)
	require.False(t, IsTriviallyCompatiblePastMap(smallKeep, cur, opts, past, opts))

	otherOpts := structs.MapOpts{NumReplicas: 2, NumVbuckets: 2}
	require.False(t, IsTriviallyCompatiblePastMap(keep, cur, opts, past, otherOpts))
}
