// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package control exposes the orchestrator's operator-facing surface as
// a net/rpc service, reached by orchestratorctl the same way
// engineclient reaches the per-node engine: net/rpc over a msgpack
// codec. The wire types here are plain DTOs, deliberately distinct from
// the domain types in structs, matching the convention
// engineclient.RPCClient already uses for its own call args.
package control

import "github.com/nkvstore/orchestrator/structs"

// RebalanceArgs requests a rebalance over the named buckets, all of
// which must be known to the agent's cluster descriptor. DeltaNodes, if
// non-empty, names a subset of Keep to attempt delta recovery for;
// DeltaBuckets restricts which buckets delta recovery is required on
// (every membase bucket in Buckets, if empty).
type RebalanceArgs struct {
	Keep, Eject, Failed []structs.NodeID
	Buckets             []string
	DeltaNodes          []structs.NodeID
	DeltaBuckets        []string
}

// RebalanceReply is empty; a rebalance either completes or the call
// returns an error.
type RebalanceReply struct{}

// NodeArgs names a single node, used by every per-node operation.
type NodeArgs struct {
	Node structs.NodeID
}

// DataLoss mirrors failover.DataLoss without importing the failover
// package into the wire contract.
type DataLoss struct {
	Bucket     string
	Percentage float64
}

// FailoverReply reports the data loss observed during a hard or
// graceful failover.
type FailoverReply struct {
	Losses []DataLoss
}

// ValidateReply lists the buckets that would lose data if NodeArgs.Node
// were failed over right now.
type ValidateReply struct {
	Unsafe []string
}

// CheckReply carries the failover-possible verdict as a string so the
// wire contract does not depend on the failover package's sentinel
// error identities: "" means ok, otherwise one of "last_node" or
// "unknown_node".
type CheckReply struct {
	Reason string
}

// Empty is used by calls that take or return nothing.
type Empty struct{}
