// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package supervisor recasts Erlang-style link+trap-exit supervision as
// Go: a cancellable task with a parent-owned handle. Parent cancellation
// forwards to the child via context; child failure
// surfaces to the parent as an error value delivered on a Done channel,
// the moral equivalent of an Erlang {'DOWN', ...} message.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Task is a long-running unit of work. It must return promptly once ctx is
// done.
type Task func(ctx context.Context) error

// Handle is the parent-owned reference to a spawned task.
type Handle struct {
	cancel context.CancelFunc
	done   chan error
}

// Cancel requests the task stop. It does not block for the task to
// actually exit; use Wait for that.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the task exits and returns its error, or nil if it
// exited because of cancellation and reported none. An arrive-too-late
// cancellation -- the task had already exited normally -- is
// observationally equivalent to success
func (h *Handle) Wait() error { return <-h.done }

// Start runs fn in its own goroutine under a context derived from ctx, and
// returns a Handle the caller can Cancel or Wait on. This is the
// constructor recast of the source's proc_lib:start_link: all
// synchronous, pre-spawn validation is the caller's responsibility (do it
// before calling Start); once Start returns, the task is already running.
func Start(ctx context.Context, fn Task) *Handle {
	taskCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan error, 1)}
	go func() {
		h.done <- fn(taskCtx)
	}()
	return h
}

// RestartPolicy bounds how many times a one_for_one supervisor will
// restart a crashing task before giving up and propagating the failure to
// its own caller, within a sliding window.
type RestartPolicy struct {
	MaxRestarts int
	Window      time.Duration
}

// DefaultRestartPolicy allows up to 3 restarts within any 10 second
// window before giving up.
var DefaultRestartPolicy = RestartPolicy{MaxRestarts: 3, Window: 10 * time.Second}

// ErrTooManyRestarts is returned when a supervised task crashes more than
// the policy allows within its window.
type ErrTooManyRestarts struct {
	Policy    RestartPolicy
	LastError error
}

func (e *ErrTooManyRestarts) Error() string {
	return fmt.Sprintf("exceeded %d restarts in %s: %v", e.Policy.MaxRestarts, e.Policy.Window, e.LastError)
}

func (e *ErrTooManyRestarts) Unwrap() error { return e.LastError }

// OneForOne runs fn under policy, restarting it on every non-nil, non
// context-cancellation error until either ctx is done, fn returns nil, or
// the restart budget within the sliding window is exhausted.
func OneForOne(ctx context.Context, logger hclog.Logger, policy RestartPolicy, fn Task) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	var restarts []time.Time

	for {
		err := fn(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}

		now := time.Now()
		restarts = prune(restarts, now, policy.Window)
		restarts = append(restarts, now)
		if len(restarts) > policy.MaxRestarts {
			return &ErrTooManyRestarts{Policy: policy, LastError: err}
		}

		logger.Warn("supervised task crashed, restarting", "error", err, "restart_count", len(restarts))
	}
}

func prune(restarts []time.Time, now time.Time, window time.Duration) []time.Time {
	out := restarts[:0]
	for _, t := range restarts {
		if now.Sub(t) <= window {
			out = append(out, t)
		}
	}
	return out
}

// Group runs a set of non-restart tasks -- such as a rebalance
// orchestrator's own run and its spawned mover -- where a crash in any one
// aborts the whole group: the first non-nil error cancels every other
// task's context and Wait returns that first error.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handles []*Handle
	firstErr error
	errOnce sync.Once
}

// NewGroup builds an empty Group bound to parent.
func NewGroup(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Go spawns fn as a member of the group.
func (g *Group) Go(fn Task) {
	h := Start(g.ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil {
			g.errOnce.Do(func() {
				g.mu.Lock()
				g.firstErr = err
				g.mu.Unlock()
				g.cancel()
			})
		}
		return err
	})
	g.mu.Lock()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
}

// Cancel stops every member of the group.
func (g *Group) Cancel() { g.cancel() }

// Wait blocks until every member has exited and returns the first
// non-nil error reported, if any.
func (g *Group) Wait() error {
	g.mu.Lock()
	handles := append([]*Handle(nil), g.handles...)
	g.mu.Unlock()

	for _, h := range handles {
		h.Wait()
	}
	return g.firstErr
}
