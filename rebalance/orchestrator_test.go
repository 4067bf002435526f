// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package rebalance

import (
	"context"
	"testing"
	"time"

	"github.com/nkvstore/orchestrator/config"
	"github.com/nkvstore/orchestrator/configstore"
	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/nkvstore/orchestrator/vbmap"
	"github.com/stretchr/testify/require"
)

// fakeClient is a minimal engineclient.Client whose ReplicatorsOf is
// seeded from a precomputed map, since the balancing generator's output
// is deterministic given identical inputs: the test predicts the target
// the same way the orchestrator will compute it.
type fakeClient struct {
	activeBuckets []string
	replicators   map[structs.NodeID][]engineclient.Replicator
}

func (f *fakeClient) QueryStates(ctx context.Context, bucket string, nodes structs.NodeSet, timeout time.Duration) (engineclient.StateReport, structs.NodeSet, error) {
	return engineclient.StateReport{}, structs.NewNodeSet(), nil
}
func (f *fakeClient) SetVbucketState(ctx context.Context, node structs.NodeID, bucket string, vb int, state engineclient.VbucketState) error {
	return nil
}
func (f *fakeClient) WaitForReplicationDrain(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	return nil
}
func (f *fakeClient) DeleteVbucket(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	return nil
}
func (f *fakeClient) ListActiveBuckets(ctx context.Context, node structs.NodeID) ([]string, error) {
	return f.activeBuckets, nil
}
func (f *fakeClient) DeleteUnusedBucketFiles(ctx context.Context, node structs.NodeID) error {
	return nil
}
func (f *fakeClient) ReplicatorsOf(ctx context.Context, node structs.NodeID, bucket string) ([]engineclient.Replicator, error) {
	return f.replicators[node], nil
}

var _ engineclient.Client = (*fakeClient)(nil)

func TestRun_RejectsEmptyKeep(t *testing.T) {
	o := New(configstore.NewMemStore(nil), &fakeClient{}, config.Default(), nil, nil)
	err := o.Run(context.Background(), Request{Keep: structs.NewNodeSet()})
	require.ErrorIs(t, err, ErrNoKVNodesLeft)
}

func TestRun_MembaseBucketEndToEnd(t *testing.T) {
	n1, n2, n3 := structs.NodeID("n1"), structs.NodeID("n2"), structs.NodeID("n3")
	keep := structs.NewNodeSet(n1, n2, n3)

	current := structs.VBucketMap{
		structs.Chain{n1, n2},
		structs.Chain{n2, n1},
	}
	bucket := structs.BucketConfig{
		Name: "b1", Type: structs.BucketMembase,
		NumReplicas: 1, NumVbuckets: 2,
		Servers: structs.NewNodeSet(n1, n2),
		Map:     current,
	}

	// Predict the target the same way the orchestrator will compute it.
	history := structs.NewMapHistory(10)
	target, _, err := vbmap.GenerateMap(current, keep, vbmap.GenerateOpts{NumReplicas: 1, NumVbuckets: 2, History: history})
	require.NoError(t, err)

	replicators := make(map[structs.NodeID][]engineclient.Replicator)
	for vb, chain := range target {
		master := chain.Master()
		for i, n := range chain {
			if i == 0 || n == structs.Unassigned {
				continue
			}
			replicators[master] = append(replicators[master], engineclient.Replicator{Src: master, Dst: n, Vbucket: vb})
		}
	}

	client := &fakeClient{activeBuckets: []string{"b1"}, replicators: replicators}
	store := configstore.NewMemStore(nil)
	o := New(store, client, config.Default(), nil, nil)

	req := Request{
		Keep:    keep,
		Eject:   structs.NewNodeSet(),
		Failed:  structs.NewNodeSet(),
		Buckets: []structs.BucketConfig{bucket},
		SelfNode: n1,
	}

	err = o.Run(context.Background(), req)
	require.NoError(t, err)

	v, _, err := store.Get(context.Background(), configstore.BucketKey(configstore.KeyBucketMap, "b1"))
	require.NoError(t, err)
	entry := v.(structs.HistoryEntry)
	require.Equal(t, target, entry.Map)
}

func TestRun_MemcachedBucketJustCommitsServers(t *testing.T) {
	n1, n2 := structs.NodeID("n1"), structs.NodeID("n2")
	keep := structs.NewNodeSet(n1, n2)

	bucket := structs.BucketConfig{
		Name: "mc1", Type: structs.BucketMemcached,
		Servers: structs.NewNodeSet(n1, n2),
	}

	client := &fakeClient{activeBuckets: []string{"mc1"}}
	store := configstore.NewMemStore(nil)
	o := New(store, client, config.Default(), nil, nil)

	req := Request{Keep: keep, Eject: structs.NewNodeSet(), Failed: structs.NewNodeSet(), Buckets: []structs.BucketConfig{bucket}, SelfNode: n1}
	require.NoError(t, o.Run(context.Background(), req))

	v, _, err := store.Get(context.Background(), configstore.BucketKey(configstore.KeyBucketServers, "mc1"))
	require.NoError(t, err)
	require.True(t, v.(structs.NodeSet).Contains(n1))
}

func TestRun_StopMidRebalance(t *testing.T) {
	n1, n2 := structs.NodeID("n1"), structs.NodeID("n2")
	keep := structs.NewNodeSet(n1, n2)

	current := structs.VBucketMap{structs.Chain{n1, structs.Unassigned}}
	bucket := structs.BucketConfig{
		Name: "b1", Type: structs.BucketMembase,
		NumReplicas: 1, NumVbuckets: 1,
		Servers: structs.NewNodeSet(n1),
		Map:     current,
	}

	client := &fakeClient{activeBuckets: []string{"b1"}}
	store := configstore.NewMemStore(nil)
	o := New(store, client, config.Default(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already stopped before Run begins

	req := Request{Keep: keep, Eject: structs.NewNodeSet(), Failed: structs.NewNodeSet(), Buckets: []structs.BucketConfig{bucket}, SelfNode: n1}
	err := o.Run(ctx, req)
	require.ErrorIs(t, err, ErrStopped)
}
