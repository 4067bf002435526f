// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package engineclient

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	msgpackrpc "github.com/hashicorp/net-rpc-msgpackrpc/v2"
	"github.com/nkvstore/orchestrator/structs"
)

// Dialer resolves a node id to a dialable address. Node addressing is an
// external collaborator's concern (the config store records it); the
// orchestrator only needs something that can produce a connection.
type Dialer func(node structs.NodeID) (string, error)

// RPCClient is a Client implementation that speaks net/rpc with the
// msgpack codec over TCP, using hashicorp/net-rpc-msgpackrpc as the wire
// transport. Retries are applied only to WaitForReplicationDrain's poll,
// where blocking on a slow responder is expected -- state-changing calls
// (SetVbucketState, DeleteVbucket, DeleteUnusedBucketFiles) are never
// silently retried.
type RPCClient struct {
	logger hclog.Logger
	dial   Dialer
	dialTO time.Duration
}

// NewRPCClient constructs an RPCClient that resolves node addresses with
// dial, timing out connection attempts after dialTimeout.
func NewRPCClient(logger hclog.Logger, dial Dialer, dialTimeout time.Duration) *RPCClient {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &RPCClient{logger: logger.Named("engineclient"), dial: dial, dialTO: dialTimeout}
}

func (c *RPCClient) call(ctx context.Context, node structs.NodeID, method string, args, reply any) error {
	addr, err := c.dial(node)
	if err != nil {
		return fmt.Errorf("resolve node %s: %w", node, err)
	}

	conn, err := net.DialTimeout("tcp", addr, c.dialTO)
	if err != nil {
		return fmt.Errorf("dial node %s (%s): %w", node, addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client := rpc.NewClientWithCodec(msgpackrpc.NewClientCodec(conn))
	defer client.Close()

	call := client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-call.Done:
		return res.Error
	}
}

// callWithRetry retries fn through a bounded exponential backoff, used
// only for WaitForReplicationDrain's status poll. It never retries a call
// that mutates engine state.
func (c *RPCClient) callWithRetry(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(fn, b)
}

type queryStatesArgs struct {
	Bucket string
	Nodes  []structs.NodeID
}

type queryStatesReply struct {
	States map[structs.NodeID]map[int]VbucketState
}

// QueryStates implements Client.
func (c *RPCClient) QueryStates(ctx context.Context, bucket string, nodes structs.NodeSet, timeout time.Duration) (StateReport, structs.NodeSet, error) {
	zombies := structs.NewNodeSet()
	report := StateReport{}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, n := range nodes.Slice() {
		var reply queryStatesReply
		args := queryStatesArgs{Bucket: bucket, Nodes: []structs.NodeID{n}}
		if err := c.call(callCtx, n, "Engine.QueryStates", args, &reply); err != nil {
			c.logger.Warn("query_states failed, treating node as zombie", "node", n, "error", err)
			zombies.Insert(n)
			continue
		}
		for node, states := range reply.States {
			report[node] = states
		}
	}
	return report, zombies, nil
}

// SetVbucketState implements Client.
func (c *RPCClient) SetVbucketState(ctx context.Context, node structs.NodeID, bucket string, vb int, state VbucketState) error {
	type args struct {
		Bucket string
		Vbucket int
		State   VbucketState
	}
	var reply struct{}
	return c.call(ctx, node, "Engine.SetVbucketState", args{bucket, vb, state}, &reply)
}

// WaitForReplicationDrain implements Client.
func (c *RPCClient) WaitForReplicationDrain(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	type args struct {
		Bucket  string
		Vbucket int
	}
	return c.callWithRetry(ctx, func() error {
		var reply struct{ Drained bool }
		if err := c.call(ctx, node, "Engine.ReplicationDrainStatus", args{bucket, vb}, &reply); err != nil {
			return err
		}
		if !reply.Drained {
			return fmt.Errorf("vbucket %d replication not yet drained on %s", vb, node)
		}
		return nil
	})
}

// DeleteVbucket implements Client.
func (c *RPCClient) DeleteVbucket(ctx context.Context, node structs.NodeID, bucket string, vb int) error {
	type args struct {
		Bucket  string
		Vbucket int
	}
	var reply struct{}
	return c.call(ctx, node, "Engine.DeleteVbucket", args{bucket, vb}, &reply)
}

// ListActiveBuckets implements Client.
func (c *RPCClient) ListActiveBuckets(ctx context.Context, node structs.NodeID) ([]string, error) {
	var reply struct{ Buckets []string }
	if err := c.call(ctx, node, "Engine.ListActiveBuckets", struct{}{}, &reply); err != nil {
		return nil, err
	}
	return reply.Buckets, nil
}

// DeleteUnusedBucketFiles implements Client.
func (c *RPCClient) DeleteUnusedBucketFiles(ctx context.Context, node structs.NodeID) error {
	var reply struct{}
	return c.call(ctx, node, "Engine.DeleteUnusedBucketFiles", struct{}{}, &reply)
}

// ReplicatorsOf implements Client.
func (c *RPCClient) ReplicatorsOf(ctx context.Context, node structs.NodeID, bucket string) ([]Replicator, error) {
	var reply struct{ Replicators []Replicator }
	if err := c.call(ctx, node, "Engine.Replicators", bucket, &reply); err != nil {
		return nil, err
	}
	return reply.Replicators, nil
}
