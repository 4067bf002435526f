// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/nkvstore/orchestrator/structs"
)

// RaftStore is a Store implementation replicated via hashicorp/raft: every
// SetMultiple is proposed as one log entry and applied to a local MemStore
// on every voter, giving the config store ordered, replicated writes
// across the cluster. Reads are served locally (read-your-writes
// on the leader; followers may briefly lag, same as any raft-backed KV
// store).
type RaftStore struct {
	logger hclog.Logger
	raft   *raft.Raft
	fsm    *configFSM
	nodeID structs.NodeID
}

// RaftStoreConfig configures a new RaftStore.
type RaftStoreConfig struct {
	NodeID    structs.NodeID
	DataDir   string
	Bind      string
	Bootstrap bool
	Logger    hclog.Logger
}

// NewRaftStore starts (or rejoins) a raft-replicated config store rooted
// at cfg.DataDir, using raft-boltdb for the log/stable store and raft's
// own file snapshot store.
func NewRaftStore(cfg RaftStoreConfig) (*RaftStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("configstore.raft")

	fsm := &configFSM{mem: NewMemStore(logger)}

	boltStore, err := raftboltdb.NewBoltStore(cfg.DataDir + "/raft.db")
	if err != nil {
		return nil, fmt.Errorf("open raft log store: %w", err)
	}
	snapStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, nil)
	if err != nil {
		return nil, fmt.Errorf("open raft snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("resolve raft bind address: %w", err)
	}
	transport, err := raft.NewTCPTransportWithLogger(cfg.Bind, addr, 3, 10*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.Logger = logger

	r, err := raft.NewRaft(raftCfg, fsm, boltStore, boltStore, snapStore, transport)
	if err != nil {
		return nil, fmt.Errorf("start raft: %w", err)
	}

	if cfg.Bootstrap {
		bootstrapConfig := raft.Configuration{Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}}
		if err := r.BootstrapCluster(bootstrapConfig).Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
		}
	}

	return &RaftStore{logger: logger, raft: r, fsm: fsm, nodeID: cfg.NodeID}, nil
}

// fsmCommand is the log entry payload: a batch of changes applied
// atomically, matching SetMultiple's contract.
type fsmCommand struct {
	Changes []Change
}

// configFSM adapts MemStore to raft.FSM.
type configFSM struct {
	mem *MemStore
}

func (f *configFSM) Apply(log *raft.Log) any {
	var cmd fsmCommand
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return err
	}
	return f.mem.SetMultiple(context.Background(), cmd.Changes...)
}

func (f *configFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &configSnapshot{mem: f.mem}, nil
}

func (f *configFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var rows []kvRecord
	if err := json.NewDecoder(rc).Decode(&rows); err != nil {
		return err
	}
	fresh := NewMemStore(f.mem.logger)
	for _, row := range rows {
		if err := fresh.SetMultiple(context.Background(), Change{Key: row.Key, Value: row.Value}); err != nil {
			return err
		}
	}
	f.mem = fresh
	return nil
}

type configSnapshot struct {
	mem *MemStore
}

func (s *configSnapshot) Persist(sink raft.SnapshotSink) error {
	txn := s.mem.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get("kv", "id")
	if err != nil {
		sink.Cancel()
		return err
	}
	var rows []kvRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rows = append(rows, *raw.(*kvRecord))
	}

	enc := json.NewEncoder(sink)
	if err := enc.Encode(rows); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *configSnapshot) Release() {}

// Get implements Store by reading the local applied state.
func (r *RaftStore) Get(ctx context.Context, key Key) (any, uint64, error) {
	return r.fsm.mem.Get(ctx, key)
}

// Set implements Store by proposing every change in one log entry, exactly
// as SetMultiple does.
func (r *RaftStore) Set(ctx context.Context, changes ...Change) error {
	return r.SetMultiple(ctx, changes...)
}

// SetMultiple implements Store by proposing one atomic raft log entry.
func (r *RaftStore) SetMultiple(ctx context.Context, changes ...Change) error {
	if r.raft.State() != raft.Leader {
		return fmt.Errorf("not leader: %w", raft.ErrNotLeader)
	}
	payload, err := json.Marshal(fsmCommand{Changes: changes})
	if err != nil {
		return err
	}
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return r.raft.Apply(payload, timeout).Error()
}

// SearchNodeProp implements Store.
func (r *RaftStore) SearchNodeProp(ctx context.Context, node structs.NodeID, key string) (any, error) {
	return r.fsm.mem.SearchNodeProp(ctx, node, key)
}

// SyncAnnouncements implements Store. Raft already replicates every write
// synchronously as part of Apply, so there is nothing buffered to flush.
func (r *RaftStore) SyncAnnouncements(context.Context) error { return nil }

// SynchronizeRemote is the orchestrator's pre-sync and post-sync
// checkpoint. For every node in nodes other than this one it runs
// waitForIndex and returns the nodes for which that failed. No follower's
// applied index is queried, so a lagging follower is not detected.
func (r *RaftStore) SynchronizeRemote(ctx context.Context, nodes structs.NodeSet) (structs.NodeSet, error) {
	target := r.raft.AppliedIndex()
	failed := structs.NewNodeSet()
	var merr *multierror.Error

	for _, n := range nodes.Slice() {
		if n == r.nodeID {
			continue
		}
		if err := r.waitForIndex(ctx, n, target); err != nil {
			failed.Insert(n)
			merr = multierror.Append(merr, fmt.Errorf("node %s: %w", n, err))
		}
	}
	return failed, merr.ErrorOrNil()
}

// waitForIndex issues a raft barrier on the local raft instance, bounded
// by 5s. The barrier only proves that this node's own state machine has
// applied every earlier log entry; node, index and ctx are not consulted.
func (r *RaftStore) waitForIndex(ctx context.Context, node structs.NodeID, index uint64) error {
	return r.raft.Barrier(5 * time.Second).Error()
}

// PastVbucketMaps implements Store.
func (r *RaftStore) PastVbucketMaps(ctx context.Context, bucket string) (*structs.MapHistory, error) {
	return r.fsm.mem.PastVbucketMaps(ctx, bucket)
}

// Shutdown gracefully stops the raft instance.
func (r *RaftStore) Shutdown() error {
	return r.raft.Shutdown().Error()
}
