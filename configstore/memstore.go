// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package configstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	memdb "github.com/hashicorp/go-memdb"
	"github.com/nkvstore/orchestrator/structs"
)

func keyID(k Key) string {
	return fmt.Sprintf("%d|%s|%s", k.Kind, k.Node, k.Bucket)
}

// kvRecord is the single row type memstore's go-memdb table holds:
// everything the orchestrator persists is addressed by the same
// composite string id, which keeps the schema -- and therefore the
// indexing -- trivial while still getting go-memdb's copy-on-write
// snapshot semantics for free.
type kvRecord struct {
	ID    string
	Key   Key
	Value any
	Index uint64
}

var memdbSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"kv": {
			Name: "kv",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
	},
}

// MemStore is an in-memory, single-node Store implementation backed by
// go-memdb. It is used directly in unit tests and as the local read path
// underneath RaftStore.
type MemStore struct {
	logger hclog.Logger
	db     *memdb.MemDB
	index  atomic.Uint64

	mu        sync.Mutex
	history   map[string]*structs.MapHistory
	nodeProps map[structs.NodeID]map[string]any
}

// NewMemStore constructs an empty MemStore.
func NewMemStore(logger hclog.Logger) *MemStore {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	db, err := memdb.NewMemDB(memdbSchema)
	if err != nil {
		// memdbSchema is a package-level literal validated once at init;
		// a failure here means the schema itself is broken.
		panic(err)
	}
	return &MemStore{
		logger:    logger.Named("configstore.mem"),
		db:        db,
		history:   make(map[string]*structs.MapHistory),
		nodeProps: make(map[structs.NodeID]map[string]any),
	}
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, key Key) (any, uint64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First("kv", "id", keyID(key))
	if err != nil {
		return nil, 0, err
	}
	if raw == nil {
		return nil, 0, ErrNotFound
	}
	rec := raw.(*kvRecord)
	return rec.Value, rec.Index, nil
}

// Set implements Store. Each change is applied independently; callers
// that need atomicity across changes must use SetMultiple.
func (s *MemStore) Set(ctx context.Context, changes ...Change) error {
	for _, c := range changes {
		if err := s.SetMultiple(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// SetMultiple implements Store, applying every change in one go-memdb
// transaction so readers never observe a partial write.
func (s *MemStore) SetMultiple(_ context.Context, changes ...Change) error {
	txn := s.db.Txn(true)
	idx := s.index.Add(1)
	for _, c := range changes {
		rec := &kvRecord{ID: keyID(c.Key), Key: c.Key, Value: c.Value, Index: idx}
		if err := txn.Insert("kv", rec); err != nil {
			txn.Abort()
			return err
		}
		if c.Key.Kind == KeyBucketMap {
			s.appendHistory(c.Key.Bucket, c.Value)
		}
	}
	txn.Commit()
	return nil
}

func (s *MemStore) appendHistory(bucket string, value any) {
	entry, ok := value.(structs.HistoryEntry)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[bucket]
	if !ok {
		h = structs.NewMapHistory(10)
		s.history[bucket] = h
	}
	h.Append(entry.Map, entry.Opts)
}

// SearchNodeProp implements Store.
func (s *MemStore) SearchNodeProp(_ context.Context, node structs.NodeID, key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	props, ok := s.nodeProps[node]
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := props[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// SetNodeProp is a MemStore-only convenience used by tests and by the
// membership package to publish gossip-derived facts.
func (s *MemStore) SetNodeProp(node structs.NodeID, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	props, ok := s.nodeProps[node]
	if !ok {
		props = make(map[string]any)
		s.nodeProps[node] = props
	}
	props[key] = value
}

// SyncAnnouncements implements Store. MemStore has no buffered local
// writes to flush, so this is a no-op.
func (s *MemStore) SyncAnnouncements(context.Context) error { return nil }

// SynchronizeRemote implements Store. A single-node MemStore has no peers
// to synchronize with, so it always reports success.
func (s *MemStore) SynchronizeRemote(context.Context, structs.NodeSet) (structs.NodeSet, error) {
	return structs.NewNodeSet(), nil
}

// PastVbucketMaps implements Store.
func (s *MemStore) PastVbucketMaps(_ context.Context, bucket string) (*structs.MapHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[bucket]
	if !ok {
		h = structs.NewMapHistory(10)
		s.history[bucket] = h
	}
	return h, nil
}
