// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package structs defines the data model shared by every package in this
// module: nodes, server groups, vbucket maps, bucket configs, and the
// bounded map history used during rebalance and delta recovery planning.
package structs

import (
	"fmt"

	"github.com/hashicorp/go-set/v3"
)

// NodeID identifies a node in the cluster. The empty NodeID is never a
// valid node; it is reserved as the Unassigned sentinel used in chains.
type NodeID string

// Unassigned is the chain-position sentinel (the "∅"): a vbucket
// position with no owner, either because the vbucket was never assigned
// or because all copies were lost in a failover.
const Unassigned NodeID = ""

// NodeSet is an order-independent, deduplicating collection of NodeIDs.
// It backs every keep/eject/failed/delta-recovery set in the orchestrator.
type NodeSet = *set.Set[NodeID]

// NewNodeSet builds a NodeSet from the given members.
func NewNodeSet(members ...NodeID) NodeSet {
	return set.From(members)
}

// Membership is the cluster-membership tag carried by every node.
type Membership string

const (
	MembershipActive        Membership = "active"
	MembershipInactiveAdded Membership = "inactive_added"
	MembershipInactiveFailed Membership = "inactive_failed"
)

// RecoveryType records how a node that is being re-admitted should be
// brought back into service.
type RecoveryType string

const (
	RecoveryNone  RecoveryType = "none"
	RecoveryDelta RecoveryType = "delta"
	RecoveryFull  RecoveryType = "full"
)

// Service names a cluster service that may run on a subset of nodes.
type Service string

const (
	ServiceKV    Service = "kv"
	ServiceIndex Service = "index"
	ServiceQuery Service = "query"
	ServiceFTS   Service = "fts"
)

// Node is a single member of the cluster.
type Node struct {
	ID         NodeID
	Membership Membership
	Recovery   RecoveryType
	Services   *set.Set[Service]
	Group      GroupUUID // "" if the node belongs to no server group
}

func (n Node) String() string {
	return fmt.Sprintf("Node(%s membership=%s recovery=%s)", n.ID, n.Membership, n.Recovery)
}

// RunsKV reports whether the node is a member of the kv service.
func (n Node) RunsKV() bool {
	return n.Services != nil && n.Services.Contains(ServiceKV)
}

// ServiceMap associates each known service with the set of nodes running it.
type ServiceMap map[Service]NodeSet

// Clone returns a deep copy of the service map.
func (m ServiceMap) Clone() ServiceMap {
	out := make(ServiceMap, len(m))
	for svc, nodes := range m {
		out[svc] = nodes.Copy()
	}
	return out
}
