// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package engineclient defines the orchestrator's view of the per-node,
// per-bucket KV engine client. The storage engine itself and its wire
// protocol are out of scope; only the operations the mover and janitor
// need are specified here, along with an RPC-backed implementation that
// talks net/rpc with a msgpack codec.
package engineclient

import (
	"context"
	"time"

	"github.com/nkvstore/orchestrator/structs"
)

// VbucketState is the engine-local state of one vbucket on one node.
type VbucketState string

const (
	StateActive  VbucketState = "active"
	StateReplica VbucketState = "replica"
	StatePending VbucketState = "pending"
	StateDead    VbucketState = "dead"
)

// StateReport is the per-node, per-vbucket state snapshot returned by
// QueryStates.
type StateReport map[structs.NodeID]map[int]VbucketState

// Client is the engine-client surface the mover and janitor depend on. The
// storage engine and wire encoding are external collaborators; only this
// interface is part of the orchestrator's contract.
type Client interface {
	// QueryStates returns the vbucket state of every vbucket on nodes for
	// bucket, and the subset of nodes that failed to respond within
	// timeout ("zombies").
	QueryStates(ctx context.Context, bucket string, nodes structs.NodeSet, timeout time.Duration) (StateReport, structs.NodeSet, error)

	// SetVbucketState transitions one vbucket on one node to state.
	SetVbucketState(ctx context.Context, node structs.NodeID, bucket string, vb int, state VbucketState) error

	// WaitForReplicationDrain blocks until the replication stream feeding
	// vb on node is fully drained, bounded by ctx's deadline.
	WaitForReplicationDrain(ctx context.Context, node structs.NodeID, bucket string, vb int) error

	// DeleteVbucket removes vb's on-disk data for bucket on node.
	DeleteVbucket(ctx context.Context, node structs.NodeID, bucket string, vb int) error

	// ListActiveBuckets returns the buckets node currently has open.
	ListActiveBuckets(ctx context.Context, node structs.NodeID) ([]string, error)

	// DeleteUnusedBucketFiles asks node to reclaim on-disk state for
	// buckets it is no longer required to host.
	DeleteUnusedBucketFiles(ctx context.Context, node structs.NodeID) error

	// ReplicatorsOf returns the set of (src, dst, vbucket) replication
	// streams node is actually running for bucket, used by replication
	// verification.
	ReplicatorsOf(ctx context.Context, node structs.NodeID, bucket string) ([]Replicator, error)
}

// Replicator is one (src -> dst) replication stream for a single vbucket.
type Replicator struct {
	Src     structs.NodeID
	Dst     structs.NodeID
	Vbucket int
}
