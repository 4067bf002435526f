// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	report  engineclient.StateReport
	zombies structs.NodeSet
	sets    []setCall
}

type setCall struct {
	node  structs.NodeID
	vb    int
	state engineclient.VbucketState
}

func (f *fakeClient) QueryStates(ctx context.Context, bucket string, nodes structs.NodeSet, timeout time.Duration) (engineclient.StateReport, structs.NodeSet, error) {
	zombies := f.zombies
	if zombies == nil {
		zombies = structs.NewNodeSet()
	}
	return f.report, zombies, nil
}

func (f *fakeClient) SetVbucketState(ctx context.Context, node structs.NodeID, bucket string, vb int, state engineclient.VbucketState) error {
	f.sets = append(f.sets, setCall{node, vb, state})
	return nil
}

func (f *fakeClient) WaitForReplicationDrain(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	return nil
}
func (f *fakeClient) DeleteVbucket(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
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

func TestSweep_RepairsMismatch(t *testing.T) {
	n1, n2 := structs.NodeID("n1"), structs.NodeID("n2")
	servers := structs.NewNodeSet(n1, n2)
	m := structs.VBucketMap{structs.Chain{n1, n2}}

	client := &fakeClient{
		report: engineclient.StateReport{
			n1: {0: engineclient.StateReplica}, // wrong: should be active (master)
			n2: {0: engineclient.StateReplica}, // correct
		},
	}

	j := New(client, nil, time.Second)
	mismatches, err := j.Sweep(context.Background(), "b1", m, servers)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	require.Equal(t, n1, mismatches[0].Node)
	require.Equal(t, engineclient.StateActive, mismatches[0].Want)
	require.Contains(t, client.sets, setCall{n1, 0, engineclient.StateActive})
}

func TestSweep_ZombieReportsFailed(t *testing.T) {
	n1 := structs.NodeID("n1")
	servers := structs.NewNodeSet(n1)
	m := structs.VBucketMap{structs.Chain{n1}}

	client := &fakeClient{
		report:  engineclient.StateReport{},
		zombies: structs.NewNodeSet(n1),
	}

	j := New(client, nil, time.Second)
	_, err := j.Sweep(context.Background(), "b1", m, servers)
	require.Error(t, err)
	var failed *ErrFailed
	require.ErrorAs(t, err, &failed)
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	calls := make(chan struct{}, 4)
	s, err := NewScheduler("* * * * * * *", func(ctx context.Context) error {
		calls <- struct{}{}
		return nil
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.GreaterOrEqual(t, len(calls), 1)
}
