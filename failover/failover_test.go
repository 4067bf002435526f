// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package failover

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-set/v3"
	"github.com/nkvstore/orchestrator/config"
	"github.com/nkvstore/orchestrator/configstore"
	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/stretchr/testify/require"
)

type fakeClient struct{}

func (fakeClient) QueryStates(ctx context.Context, bucket string, nodes structs.NodeSet, timeout time.Duration) (engineclient.StateReport, structs.NodeSet, error) {
	return engineclient.StateReport{}, structs.NewNodeSet(), nil
}
func (fakeClient) SetVbucketState(ctx context.Context, node structs.NodeID, bucket string, vb int, state engineclient.VbucketState) error {
	return nil
}
func (fakeClient) WaitForReplicationDrain(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	return nil
}
func (fakeClient) DeleteVbucket(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	return nil
}
func (fakeClient) ListActiveBuckets(ctx context.Context, node structs.NodeID) ([]string, error) {
	return nil, nil
}
func (fakeClient) DeleteUnusedBucketFiles(ctx context.Context, node structs.NodeID) error { return nil }
func (fakeClient) ReplicatorsOf(ctx context.Context, node structs.NodeID, bucket string) ([]engineclient.Replicator, error) {
	return nil, nil
}

var _ engineclient.Client = fakeClient{}

// TestHard_S2 is scenario S2: hard failover of n2 with one replica,
// vb7 chain [n2,n3] before, [n3,Unassigned] after.
func TestHard_S2(t *testing.T) {
	n1, n2, n3 := structs.NodeID("n1"), structs.NodeID("n2"), structs.NodeID("n3")
	m := make(structs.VBucketMap, 8)
	for i := range m {
		m[i] = structs.Chain{n1, n2}
	}
	m[7] = structs.Chain{n2, n3}

	buckets := []structs.BucketConfig{{
		Name: "beer-sample", Type: structs.BucketMembase,
		NumReplicas: 1, NumVbuckets: 8,
		Servers: structs.NewNodeSet(n1, n2, n3),
		Map:     m,
	}}

	store := configstore.NewMemStore(nil)
	o := New(store, fakeClient{}, config.Default(), nil, nil)

	_, err := o.Hard(context.Background(), n2, buckets, nil)
	require.NoError(t, err)

	v, _, err := store.Get(context.Background(), configstore.BucketKey(configstore.KeyBucketMap, "beer-sample"))
	require.NoError(t, err)
	entry := v.(structs.HistoryEntry)
	require.Equal(t, structs.Chain{n3, structs.Unassigned}, entry.Map[7])

	servers, _, err := store.Get(context.Background(), configstore.BucketKey(configstore.KeyBucketServers, "beer-sample"))
	require.NoError(t, err)
	require.False(t, servers.(structs.NodeSet).Contains(n2))

	ffMap, _, err := store.Get(context.Background(), configstore.BucketKey(configstore.KeyBucketFastForwardMap, "beer-sample"))
	require.NoError(t, err)
	require.Nil(t, ffMap)

	fv, _, err := store.Get(context.Background(), configstore.NodeKey(configstore.KeyNodeFailoverVbuckets, n2))
	require.NoError(t, err)
	rec := fv.(structs.FailoverRecord)
	require.True(t, rec["beer-sample"].Contains(7))
}

// TestHard_S3 is scenario S3: hard failover with zero replicas,
// chains [[n1],[n2],[n1]], failover n1 -> [[∅],[n2],[∅]], DATA_LOST 66%.
func TestHard_S3(t *testing.T) {
	n1, n2 := structs.NodeID("n1"), structs.NodeID("n2")
	m := structs.VBucketMap{
		structs.Chain{n1},
		structs.Chain{n2},
		structs.Chain{n1},
	}
	buckets := []structs.BucketConfig{{
		Name: "b1", Type: structs.BucketMembase,
		NumReplicas: 0, NumVbuckets: 3,
		Servers: structs.NewNodeSet(n1, n2),
		Map:     m,
	}}

	store := configstore.NewMemStore(nil)
	o := New(store, fakeClient{}, config.Default(), nil, nil)

	losses, err := o.Hard(context.Background(), n1, buckets, nil)
	require.NoError(t, err)
	require.Len(t, losses, 1)
	require.InDelta(t, 66.67, losses[0].Percentage, 0.5)
}

func TestValidateAutoFailover_DetectsUnsafe(t *testing.T) {
	n1, n2 := structs.NodeID("n1"), structs.NodeID("n2")
	m := structs.VBucketMap{structs.Chain{n1}}
	buckets := []structs.BucketConfig{{
		Name: "b1", Type: structs.BucketMembase, NumReplicas: 0, NumVbuckets: 1,
		Servers: structs.NewNodeSet(n1, n2), Map: m,
	}}

	o := New(configstore.NewMemStore(nil), fakeClient{}, config.Default(), nil, nil)
	unsafe := o.ValidateAutoFailover(n1, buckets)
	require.Equal(t, []string{"b1"}, unsafe)
}

func TestValidateAutoFailover_SafeWithReplica(t *testing.T) {
	n1, n2 := structs.NodeID("n1"), structs.NodeID("n2")
	m := structs.VBucketMap{structs.Chain{n1, n2}}
	buckets := []structs.BucketConfig{{
		Name: "b1", Type: structs.BucketMembase, NumReplicas: 1, NumVbuckets: 1,
		Servers: structs.NewNodeSet(n1, n2), Map: m,
	}}

	o := New(configstore.NewMemStore(nil), fakeClient{}, config.Default(), nil, nil)
	unsafe := o.ValidateAutoFailover(n1, buckets)
	require.Empty(t, unsafe)
}

func TestCheckFailoverPossible(t *testing.T) {
	kv := set.From([]structs.Service{structs.ServiceKV})
	nodes := []structs.Node{
		{ID: "n1", Membership: structs.MembershipActive, Services: kv},
		{ID: "n2", Membership: structs.MembershipActive, Services: kv},
	}
	require.NoError(t, CheckFailoverPossible("n1", nodes))

	lastNodeOnly := []structs.Node{{ID: "n1", Membership: structs.MembershipActive, Services: kv}}
	require.ErrorIs(t, CheckFailoverPossible("n1", lastNodeOnly), ErrLastNode)

	require.ErrorIs(t, CheckFailoverPossible("ghost", nodes), ErrUnknownNode)
}
