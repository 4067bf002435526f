// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package janitor reconciles each node's actual per-vbucket engine state
// against a bucket's committed map. The rebalance orchestrator runs one
// sweep synchronously before every bucket's move and none after it.
// Scheduler can run sweeps on a cron-like cadence to correct drift that
// accumulates between rebalances; nothing in this module starts one.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/cronexpr"
	"github.com/hashicorp/go-hclog"
	gometrics "github.com/hashicorp/go-metrics"
	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/structs"
)

// Janitor reconciles engine-reported vbucket state against a bucket's
// intended map.
type Janitor struct {
	client  engineclient.Client
	logger  hclog.Logger
	timeout time.Duration
}

// New builds a Janitor over client, bounding each sweep's state query by
// timeout (the query_states timeout, default 10s).
func New(client engineclient.Client, logger hclog.Logger, timeout time.Duration) *Janitor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Janitor{client: client, logger: logger.Named("janitor"), timeout: timeout}
}

// Mismatch is one vbucket/node disagreement found by a sweep.
type Mismatch struct {
	Node    structs.NodeID
	Vbucket int
	Want    engineclient.VbucketState
	Got     engineclient.VbucketState
}

// ErrFailed reports that a sweep could not complete on some nodes. This
// is informational after a hard failover -- logged and swallowed -- but
// fatal (pre_rebalance_janitor_run_failed) when it occurs as a rebalance
// precondition.
type ErrFailed struct {
	Bucket  string
	Zombies structs.NodeSet
}

func (e *ErrFailed) Error() string {
	return fmt.Sprintf("janitor sweep of bucket %s failed to reach nodes: %v", e.Bucket, e.Zombies.Slice())
}

// Sweep queries every node in servers for its actual vbucket states for
// bucket, compares them against the chains in wantMap, and repairs any
// vbucket whose reported state does not match what the map implies
// (active on the chain's master, replica on every other chain member).
// A vbucket a node reports without being in its chain is not checked.
// It returns every mismatch it found and
// attempted to repair, and an *ErrFailed if any node could not be
// reached.
func (j *Janitor) Sweep(ctx context.Context, bucket string, wantMap structs.VBucketMap, servers structs.NodeSet) ([]Mismatch, error) {
	start := time.Now()
	defer gometrics.MeasureSince([]string{"janitor", "sweep", "duration"}, start)

	report, zombies, err := j.client.QueryStates(ctx, bucket, servers, j.timeout)
	if err != nil {
		return nil, fmt.Errorf("query_states: %w", err)
	}

	want := desiredStates(wantMap, servers)

	var mismatches []Mismatch
	for node, vbs := range want {
		if zombies.Contains(node) {
			continue
		}
		actual := report[node]
		for vb, wantState := range vbs {
			got := actual[vb]
			if got == "" {
				got = engineclient.StateDead
			}
			if got == wantState {
				continue
			}
			mismatches = append(mismatches, Mismatch{Node: node, Vbucket: vb, Want: wantState, Got: got})
			if err := j.client.SetVbucketState(ctx, node, bucket, vb, wantState); err != nil {
				j.logger.Warn("janitor repair failed", "node", node, "vbucket", vb, "error", err)
			}
		}
	}

	gometrics.IncrCounter([]string{"janitor", "mismatch"}, float32(len(mismatches)))

	if zombies.Size() > 0 {
		return mismatches, &ErrFailed{Bucket: bucket, Zombies: zombies}
	}
	return mismatches, nil
}

// desiredStates computes, for every node in servers, the engine state
// of every vbucket assigned to it: active for chains where it's master,
// replica for chains where it's a non-head member. Vbuckets not in any
// of a node's chains have no entry.
func desiredStates(m structs.VBucketMap, servers structs.NodeSet) map[structs.NodeID]map[int]engineclient.VbucketState {
	out := make(map[structs.NodeID]map[int]engineclient.VbucketState, servers.Size())
	for _, n := range servers.Slice() {
		out[n] = make(map[int]engineclient.VbucketState)
	}
	for vb, chain := range m {
		for i, n := range chain {
			if n == structs.Unassigned || !servers.Contains(n) {
				continue
			}
			if i == 0 {
				out[n][vb] = engineclient.StateActive
			} else {
				out[n][vb] = engineclient.StateReplica
			}
		}
	}
	return out
}

// SweepFunc is one scheduled unit of work: typically a closure over a
// Janitor, bucket name, and a way to fetch the bucket's current map and
// servers from the config store at call time.
type SweepFunc func(ctx context.Context) error

// Scheduler runs a SweepFunc on a cron-like cadence using
// hashicorp/cronexpr's seven-field expression syntax.
type Scheduler struct {
	expr   *cronexpr.Expression
	fn     SweepFunc
	logger hclog.Logger
}

// NewScheduler parses spec (standard cron syntax, e.g. "*/5 * * * * * *"
// for every five seconds under cronexpr's seven-field extension) and
// binds it to fn.
func NewScheduler(spec string, fn SweepFunc, logger hclog.Logger) (*Scheduler, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Scheduler{expr: expr, fn: fn, logger: logger.Named("janitor.scheduler")}, nil
}

// Run blocks, invoking fn at every scheduled occurrence, until ctx is
// done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.expr.Next(time.Now())
		wait := time.Until(next)
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.fn(ctx); err != nil {
				s.logger.Warn("scheduled sweep failed", "error", err)
			}
		}
	}
}
