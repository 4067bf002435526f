// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package control

import (
	"context"
	"net"
	"net/rpc"
	"testing"
	"time"

	msgpackrpc "github.com/hashicorp/net-rpc-msgpackrpc/v2"
	"github.com/nkvstore/orchestrator/config"
	"github.com/nkvstore/orchestrator/configstore"
	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/stretchr/testify/require"
)

type noopClient struct{}

func (noopClient) QueryStates(ctx context.Context, bucket string, nodes structs.NodeSet, timeout time.Duration) (engineclient.StateReport, structs.NodeSet, error) {
	return engineclient.StateReport{}, structs.NewNodeSet(), nil
}
func (noopClient) SetVbucketState(ctx context.Context, node structs.NodeID, bucket string, vb int, state engineclient.VbucketState) error {
	return nil
}
func (noopClient) WaitForReplicationDrain(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	return nil
}
func (noopClient) DeleteVbucket(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	return nil
}
func (noopClient) ListActiveBuckets(ctx context.Context, node structs.NodeID) ([]string, error) {
	return nil, nil
}
func (noopClient) DeleteUnusedBucketFiles(ctx context.Context, node structs.NodeID) error { return nil }
func (noopClient) ReplicatorsOf(ctx context.Context, node structs.NodeID, bucket string) ([]engineclient.Replicator, error) {
	return nil, nil
}

func startAgent(t *testing.T, cluster *Cluster) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ctrl := NewControl(cluster, configstore.NewMemStore(nil), noopClient{}, config.Default(), nil, nil)
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("Control", ctrl))

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.ServeCodec(msgpackrpc.NewServerCodec(conn))
		}
	}()
	return ln.Addr().String()
}

func TestClient_CheckFailoverPossible(t *testing.T) {
	n1 := structs.NodeID("n1")
	cluster := &Cluster{Nodes: []structs.Node{{ID: n1, Membership: structs.MembershipActive}}}
	addr := startAgent(t, cluster)

	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	reply, err := c.CheckFailoverPossible(NodeArgs{Node: "ghost"})
	require.NoError(t, err)
	require.Equal(t, "unknown_node", reply.Reason)
}

func TestClient_StopIsIdempotent(t *testing.T) {
	cluster := &Cluster{Buckets: map[string]structs.BucketConfig{}}
	addr := startAgent(t, cluster)

	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
}
