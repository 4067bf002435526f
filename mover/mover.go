// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package mover drives one bucket's transition from its current vbucket
// map to a target map, vbucket by vbucket. Each
// vbucket is an independent state machine:
//
//	ACTIVE_ON_CUR -> REPLICAS_READY -> ACTIVE_ON_NEW -> CLEAN
//
// and the Mover schedules them under a per-(src,dst) node-pair parallelism
// cap, reporting coarse progress and honoring cancellation at every step.
package mover

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	gometrics "github.com/hashicorp/go-metrics"
	"github.com/nkvstore/orchestrator/engineclient"
	"github.com/nkvstore/orchestrator/structs"
	"github.com/nkvstore/orchestrator/vbmap"
	"golang.org/x/time/rate"
)

// State is one vbucket's position in the move state machine.
type State int

const (
	StateActiveOnCur State = iota
	StateReplicasReady
	StateActiveOnNew
	StateClean
)

func (s State) String() string {
	switch s {
	case StateActiveOnCur:
		return "active_on_cur"
	case StateReplicasReady:
		return "replicas_ready"
	case StateActiveOnNew:
		return "active_on_new"
	case StateClean:
		return "clean"
	default:
		return "unknown"
	}
}

// ProgressFun is invoked at coarse granularity -- after a vbucket
// completes, at most once per 100ms except for the final call, and never
// per internal transition -- with each node's fraction of its assigned
// work done.
type ProgressFun func(progress map[structs.NodeID]float64)

// Outcome is the terminal result of a Run call.
type Outcome struct {
	Stopped bool
	Err     error
}

// Options configures a Mover.
type Options struct {
	Bucket string
	// Parallelism bounds how many vbuckets may be moving concurrently
	// between any single (src, dst) node pair. Default is 1.
	Parallelism int
	Progress    ProgressFun
	Logger      hclog.Logger
}

// move is one vbucket's planned transition.
type move struct {
	vbucket  int
	current  structs.Chain
	target   structs.Chain
	distance int
	// mastersChanged is true when the head of the chain differs, used
	// to prioritize freeing the old master sooner.
	mastersChanged bool
}

// Mover drives a single bucket's vbuckets from current to target.
type Mover struct {
	client  engineclient.Client
	opts    Options
	logger  hclog.Logger
	current structs.VBucketMap
	target  structs.VBucketMap

	mu       sync.Mutex
	done     map[int]bool
	inFlight map[[2]structs.NodeID]int

	// progressLimiter caps how often opts.Progress fires during a large
	// move, so a thousand-vbucket rebalance doesn't call back once per
	// vbucket; the final callback always fires regardless.
	progressLimiter *rate.Limiter
}

// New builds a Mover that will drive bucket from current to target using
// client for the underlying per-node engine operations.
func New(client engineclient.Client, current, target structs.VBucketMap, opts Options) *Mover {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Mover{
		client:          client,
		opts:            opts,
		logger:          logger.Named("mover").With("bucket", opts.Bucket),
		current:         current,
		target:          target,
		done:            make(map[int]bool),
		inFlight:        make(map[[2]structs.NodeID]int),
		progressLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// Run drives every vbucket whose chain differs between current and target
// to completion, honoring ctx cancellation as a clean stop rather than a
// failure: once cancelled, no new transitions are initiated, in-flight
// ones are left to complete or abort per local safety, and the outcome
// is reported as stopped.
func (m *Mover) Run(ctx context.Context) Outcome {
	moves := m.planMoves()
	if len(moves) == 0 {
		return Outcome{}
	}

	sem := make(chan struct{}, len(moves))
	type result struct {
		vb  int
		err error
	}
	results := make(chan result, len(moves))

	var wg sync.WaitGroup
	stopped := false

	for _, mv := range moves {
		mv := mv
		select {
		case <-ctx.Done():
			stopped = true
		default:
		}
		if stopped {
			break
		}

		if !m.acquire(ctx, mv) {
			stopped = true
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer m.release(mv)
			err := m.runOne(ctx, mv)
			results <- result{vb: mv.vbucket, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for r := range results {
		if r.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("vbucket %d: %w", r.vb, r.err)
		}
		m.mu.Lock()
		m.done[r.vb] = true
		finished := len(m.done) == len(moves)
		m.mu.Unlock()
		if finished || m.progressLimiter.Allow() {
			m.reportProgress(moves)
		}
	}

	if firstErr != nil {
		gometrics.IncrCounter([]string{"vbucket", "move", "error"}, 1)
		return Outcome{Err: firstErr}
	}
	if stopped || ctx.Err() != nil {
		return Outcome{Stopped: true}
	}
	return Outcome{}
}

// planMoves computes the set of vbuckets that actually differ between
// current and target, ordered by the tie-break: minimum chain
// distance first, masters-changed transitions before replica-only moves
// of equal distance, then vbucket id for determinism.
func (m *Mover) planMoves() []move {
	var moves []move
	for vb := range m.target {
		var cur structs.Chain
		if vb < len(m.current) {
			cur = m.current[vb]
		}
		tgt := m.target[vb]
		if cur.Equal(tgt) {
			continue
		}
		moves = append(moves, move{
			vbucket:        vb,
			current:        cur,
			target:         tgt,
			distance:       vbmap.VbucketMovements(structs.VBucketMap{cur}, structs.VBucketMap{tgt}),
			mastersChanged: cur.Master() != tgt.Master(),
		})
	}
	sort.Slice(moves, func(i, j int) bool {
		if moves[i].distance != moves[j].distance {
			return moves[i].distance < moves[j].distance
		}
		if moves[i].mastersChanged != moves[j].mastersChanged {
			return moves[i].mastersChanged
		}
		return moves[i].vbucket < moves[j].vbucket
	})
	return moves
}

// pairs returns the (src, dst) node pairs this move touches: every node
// of the current chain paired with the target master, which is the
// parallelism-limiting resource.
func pairs(mv move) [][2]structs.NodeID {
	dst := mv.target.Master()
	seen := map[[2]structs.NodeID]bool{}
	var out [][2]structs.NodeID
	add := func(src structs.NodeID) {
		if src == structs.Unassigned || src == dst || dst == structs.Unassigned {
			return
		}
		p := [2]structs.NodeID{src, dst}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, n := range mv.current {
		add(n)
	}
	return out
}

// acquire blocks until every (src,dst) pair touched by mv has capacity
// under the configured parallelism, or ctx is done.
func (m *Mover) acquire(ctx context.Context, mv move) bool {
	ps := pairs(mv)
	for {
		m.mu.Lock()
		ok := true
		for _, p := range ps {
			if m.inFlight[p] >= m.opts.Parallelism {
				ok = false
				break
			}
		}
		if ok {
			for _, p := range ps {
				m.inFlight[p]++
			}
			m.mu.Unlock()
			return true
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *Mover) release(mv move) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pairs(mv) {
		m.inFlight[p]--
	}
}

// runOne drives a single vbucket through ACTIVE_ON_CUR -> REPLICAS_READY
// -> ACTIVE_ON_NEW -> CLEAN.
func (m *Mover) runOne(ctx context.Context, mv move) error {
	start := time.Now()
	defer func() {
		gometrics.MeasureSince([]string{"vbucket", "move", "duration"}, start)
	}()

	bucket := m.opts.Bucket
	newMaster := mv.target.Master()

	// ACTIVE_ON_CUR -> REPLICAS_READY: bring up replica state on every
	// target position other than the master, then wait for replication
	// to fully drain before allowing takeover.
	for i, n := range mv.target {
		if i == 0 || n == structs.Unassigned {
			continue
		}
		if err := m.client.SetVbucketState(ctx, n, bucket, mv.vbucket, engineclient.StateReplica); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("set replica state on %s: %w", n, err)
		}
		if err := m.client.WaitForReplicationDrain(ctx, n, bucket, mv.vbucket); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for replication drain on %s: %w", n, err)
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	// REPLICAS_READY -> ACTIVE_ON_NEW: takeover on the new master.
	if newMaster != structs.Unassigned && newMaster != mv.current.Master() {
		if err := m.client.SetVbucketState(ctx, newMaster, bucket, mv.vbucket, engineclient.StateActive); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("takeover on %s: %w", newMaster, err)
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	// ACTIVE_ON_NEW -> CLEAN: delete on nodes no longer in the target
	// chain.
	for _, n := range mv.current {
		if n == structs.Unassigned || mv.target.Contains(n) {
			continue
		}
		if err := m.client.DeleteVbucket(ctx, n, bucket, mv.vbucket); err != nil {
			return fmt.Errorf("delete stale copy on %s: %w", n, err)
		}
	}

	gometrics.IncrCounter([]string{"vbucket", "move", "complete"}, 1)
	return nil
}

// reportProgress composes the fraction of assigned moves completed per
// node and invokes opts.Progress, if set. Progress is coarse: Run calls
// this after a vbucket completes, subject to progressLimiter, not per
// internal state transition.
func (m *Mover) reportProgress(moves []move) {
	if m.opts.Progress == nil {
		return
	}
	total := make(map[structs.NodeID]int)
	completed := make(map[structs.NodeID]int)

	m.mu.Lock()
	for _, mv := range moves {
		for _, n := range touchedNodes(mv) {
			total[n]++
			if m.done[mv.vbucket] {
				completed[n]++
			}
		}
	}
	m.mu.Unlock()

	frac := make(map[structs.NodeID]float64, len(total))
	for n, t := range total {
		if t == 0 {
			frac[n] = 1
			continue
		}
		frac[n] = float64(completed[n]) / float64(t)
	}
	m.opts.Progress(frac)
}

func touchedNodes(mv move) structs.NodeSet {
	s := structs.NewNodeSet()
	for _, n := range mv.current {
		if n != structs.Unassigned {
			s.Insert(n)
		}
	}
	for _, n := range mv.target {
		if n != structs.Unassigned {
			s.Insert(n)
		}
	}
	return s
}
