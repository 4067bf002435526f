// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package mover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeClient is a minimal in-memory engineclient.Client used to exercise
// the mover's state machine without any real transport.
type fakeClient struct {
	mu          sync.Mutex
	setCalls    []setCall
	deleteCalls []deleteCall
	failOn      structs.NodeID // SetVbucketState fails for this node
	blockDrain  chan struct{}  // if non-nil, WaitForReplicationDrain blocks until closed
}

type setCall struct {
	node  structs.NodeID
	vb    int
	state engineclient.VbucketState
}

type deleteCall struct {
	node structs.NodeID
	vb   int
}

func newFakeClient() *fakeClient {
	return &fakeClient{}
}

func (f *fakeClient) QueryStates(ctx context.Context, bucket string, nodes structs.NodeSet, timeout time.Duration) (engineclient.StateReport, structs.NodeSet, error) {
	return nil, structs.NewNodeSet(), nil
}

func (f *fakeClient) SetVbucketState(ctx context.Context, node structs.NodeID, bucket string, vb int, state engineclient.VbucketState) error {
	if f.failOn != "" && node == f.failOn {
		return errors.New("engine rejected state change")
	}
	f.mu.Lock()
	f.setCalls = append(f.setCalls, setCall{node, vb, state})
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) WaitForReplicationDrain(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	if f.blockDrain != nil {
		select {
		case <-f.blockDrain:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeClient) DeleteVbucket(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	f.mu.Lock()
	f.deleteCalls = append(f.deleteCalls, deleteCall{node, vb})
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) ListActiveBuckets(ctx context.Context, node structs.NodeID) ([]string, error) {
	return nil, nil
}

func (f *fakeClient) DeleteUnusedBucketFiles(ctx context.Context, node structs.NodeID) error {
	return nil
}

func (f *fakeClient) ReplicatorsOf(ctx context.Context, node structs.NodeID, bucket string) ([]engineclient.Replicator, error) {
	return nil, nil
}

var _ engineclient.Client = (*fakeClient)(nil)

func TestMover_DrivesSimpleMove(t *testing.T) {
	n1, n2 := structs.NodeID("n1"), structs.NodeID("n2")
	current := structs.VBucketMap{structs.Chain{n1, structs.Unassigned}}
	target := structs.VBucketMap{structs.Chain{n2, structs.Unassigned}}

	client := newFakeClient()
	m := New(client, current, target, Options{Bucket: "b1", Parallelism: 1})

	out := m.Run(context.Background())
	require.NoError(t, out.Err)
	require.False(t, out.Stopped)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Contains(t, client.setCalls, setCall{n2, 0, engineclient.StateActive})
	require.Contains(t, client.deleteCalls, deleteCall{n1, 0})
}

func TestMover_NoopWhenMapsEqual(t *testing.T) {
	n1 := structs.NodeID("n1")
	m := VBMapOf(structs.Chain{n1})
	client := newFakeClient()
	mv := New(client, m, m, Options{Bucket: "b1"})

	out := mv.Run(context.Background())
	require.NoError(t, out.Err)
	require.Empty(t, client.setCalls)
}

func TestMover_FatalOnEngineError(t *testing.T) {
	n1, n2 := structs.NodeID("n1"), structs.NodeID("n2")
	current := structs.VBucketMap{structs.Chain{n1, structs.Unassigned}}
	target := structs.VBucketMap{structs.Chain{n1, n2}}

	client := newFakeClient()
	client.failOn = n2
	m := New(client, current, target, Options{Bucket: "b1"})

	out := m.Run(context.Background())
	require.Error(t, out.Err)
	require.False(t, out.Stopped)
}

func TestMover_StopMidRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	n1, n2, n3, n4 := structs.NodeID("n1"), structs.NodeID("n2"), structs.NodeID("n3"), structs.NodeID("n4")
	current := structs.VBucketMap{
		structs.Chain{n1, structs.Unassigned},
		structs.Chain{n3, structs.Unassigned},
	}
	target := structs.VBucketMap{
		structs.Chain{n2, n1},
		structs.Chain{n4, n3},
	}

	client := newFakeClient()
	client.blockDrain = make(chan struct{}) // never closed: drain blocks forever

	m := New(client, current, target, Options{Bucket: "b1", Parallelism: 2})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Outcome, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case out := <-done:
		require.True(t, out.Stopped)
	case <-time.After(2 * time.Second):
		t.Fatal("mover did not honor cancellation")
	}
}

func TestMover_ProgressCallback(t *testing.T) {
	n1, n2 := structs.NodeID("n1"), structs.NodeID("n2")
	current := structs.VBucketMap{structs.Chain{n1, structs.Unassigned}}
	target := structs.VBucketMap{structs.Chain{n2, n1}}

	client := newFakeClient()
	var mu sync.Mutex
	var calls int
	m := New(client, current, target, Options{
		Bucket:      "b1",
		Parallelism: 1,
		Progress: func(progress map[structs.NodeID]float64) {
			mu.Lock()
			calls++
			mu.Unlock()
		},
	})

	out := m.Run(context.Background())
	require.NoError(t, out.Err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

// VBMapOf is a small test helper building a single-vbucket map.
func VBMapOf(chains ...structs.Chain) structs.VBucketMap {
	return structs.VBucketMap(chains)
}
