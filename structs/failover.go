// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package structs

import "github.com/hashicorp/go-set/v3"

// VbucketSet is an order-independent set of vbucket ids.
type VbucketSet = *set.Set[int]

// NewVbucketSet builds a VbucketSet from the given vbucket ids.
func NewVbucketSet(ids ...int) VbucketSet {
	return set.From(ids)
}

// FailoverRecord is the set of vbucket ids whose chain held a node (as
// master or replica) at the moment it was hard-failed-over, per bucket. It is persisted to
// the config store and consulted when the node later returns via delta
// recovery.
type FailoverRecord map[string]VbucketSet // bucket name -> vbucket ids

// FailoverVbuckets indexes FailoverRecord by the node it describes.
type FailoverVbuckets map[NodeID]FailoverRecord

// RecordFor returns the vbucket ids node was serving for bucket at
// failover time, or an empty set if none were recorded.
func (f FailoverVbuckets) RecordFor(node NodeID, bucket string) VbucketSet {
	rec, ok := f[node]
	if !ok {
		return set.New[int](0)
	}
	vbs, ok := rec[bucket]
	if !ok {
		return set.New[int](0)
	}
	return vbs
}

// Set records the vbucket ids node was serving for bucket, overwriting any
// prior record.
func (f FailoverVbuckets) Set(node NodeID, bucket string, vbs VbucketSet) {
	rec, ok := f[node]
	if !ok {
		rec = FailoverRecord{}
		f[node] = rec
	}
	rec[bucket] = vbs
}
