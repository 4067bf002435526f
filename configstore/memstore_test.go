// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package configstore

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/stretchr/testify/require"
)

func TestMemStore_SetGet(t *testing.T) {
	s := NewMemStore(hclog.NewNullLogger())
	ctx := context.Background()

	_, _, err := s.Get(ctx, BucketKey(KeyBucketServers, "beer-sample"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, Change{Key: BucketKey(KeyBucketServers, "beer-sample"), Value: "n1,n2"}))
	v, idx, err := s.Get(ctx, BucketKey(KeyBucketServers, "beer-sample"))
	require.NoError(t, err)
	require.Equal(t, "n1,n2", v)
	require.Equal(t, uint64(1), idx)
}

func TestMemStore_SetMultipleAtomic(t *testing.T) {
	s := NewMemStore(hclog.NewNullLogger())
	ctx := context.Background()

	err := s.SetMultiple(ctx,
		Change{Key: BucketKey(KeyBucketServers, "b1"), Value: "n1"},
		Change{Key: BucketKey(KeyBucketMapOptsHash, "b1"), Value: "abc"},
	)
	require.NoError(t, err)

	_, idx1, err := s.Get(ctx, BucketKey(KeyBucketServers, "b1"))
	require.NoError(t, err)
	_, idx2, err := s.Get(ctx, BucketKey(KeyBucketMapOptsHash, "b1"))
	require.NoError(t, err)
	require.Equal(t, idx1, idx2)
}

func TestMemStore_NodeProps(t *testing.T) {
	s := NewMemStore(hclog.NewNullLogger())
	ctx := context.Background()

	_, err := s.SearchNodeProp(ctx, "n1", "rack")
	require.ErrorIs(t, err, ErrNotFound)

	s.SetNodeProp("n1", "rack", "rack-a")
	v, err := s.SearchNodeProp(ctx, "n1", "rack")
	require.NoError(t, err)
	require.Equal(t, "rack-a", v)
}

func TestMemStore_PastVbucketMaps(t *testing.T) {
	s := NewMemStore(hclog.NewNullLogger())
	ctx := context.Background()

	m := structs.VBucketMap{structs.Chain{"n1", "n2"}}
	opts := structs.MapOpts{NumReplicas: 1, NumVbuckets: 1}
	require.NoError(t, s.Set(ctx, Change{
		Key:   BucketKey(KeyBucketMap, "b1"),
		Value: structs.HistoryEntry{Map: m, Opts: opts},
	}))

	h, err := s.PastVbucketMaps(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 1, h.Len())
}
