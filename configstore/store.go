// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package configstore defines the config store contract and two
// implementations: an in-memory memstore backed by go-memdb for
// single-node operation and tests, and a replicated raftstore backed by
// hashicorp/raft for multi-node deployments. The storage engine and the
// config replication subsystem's full protocol are external
// collaborators; only this interface and its two reference
// implementations are in scope.
package configstore

import (
	"context"
	"errors"

	"github.com/nkvstore/orchestrator/structs"
)

// KeyKind identifies which of the core keys a Key names.
type KeyKind int

const (
	KeyNodeMembership KeyKind = iota
	KeyNodeRecoveryType
	KeyNodeFailoverVbuckets
	KeyBucketServers
	KeyBucketMap
	KeyBucketFastForwardMap
	KeyBucketMapOptsHash
	KeyBucketDeltaRecoveryMap
	KeyServerGroups
	// KeyServiceMap addresses the node set running one service; the
	// service name is carried in Key.Bucket, which is otherwise unused
	// for this kind.
	KeyServiceMap
)

// ServiceKey builds a service-scoped key.
func ServiceKey(service structs.Service) Key { return Key{Kind: KeyServiceMap, Bucket: string(service)} }

// Key addresses one value in the store.
type Key struct {
	Kind   KeyKind
	Node   structs.NodeID // set for node-scoped keys
	Bucket string         // set for bucket-scoped keys
}

// NodeKey builds a node-scoped key.
func NodeKey(kind KeyKind, node structs.NodeID) Key { return Key{Kind: kind, Node: node} }

// BucketKey builds a bucket-scoped key.
func BucketKey(kind KeyKind, bucket string) Key { return Key{Kind: kind, Bucket: bucket} }

// Change is one key/value write.
type Change struct {
	Key   Key
	Value any
}

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("configstore: key not found")

// Store is the config store contract the orchestrator consumes. Every
// mutating method is expected to be linearizable from the caller's
// point of view; SetMultiple is additionally atomic across all of its
// changes.
type Store interface {
	Get(ctx context.Context, key Key) (any, uint64, error)
	Set(ctx context.Context, changes ...Change) error
	SetMultiple(ctx context.Context, changes ...Change) error
	SearchNodeProp(ctx context.Context, node structs.NodeID, key string) (any, error)
	SyncAnnouncements(ctx context.Context) error
	SynchronizeRemote(ctx context.Context, nodes structs.NodeSet) (failed structs.NodeSet, err error)
	PastVbucketMaps(ctx context.Context, bucket string) (*structs.MapHistory, error)
}
