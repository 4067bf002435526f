// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package fanout implements a bounded concurrent RPC multicall over a set
// of nodes that returns a tri-partition of results, letting each caller
// decide whether partial failure is fatal.
package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/nkvstore/orchestrator/structs"
	"golang.org/x/sync/errgroup"
)

// Result is the tri-partition of a fan-out: nodes that answered
// successfully, nodes that answered with an error, and nodes that did not
// answer within the caller's timeout (the "down" bucket, reported
// by the caller's Func returning context.DeadlineExceeded or similar).
type Result struct {
	Good structs.NodeSet
	Bad  map[structs.NodeID]error
	Down structs.NodeSet
}

// Func is the per-node operation a fan-out runs. A context.DeadlineExceeded
// (or context.Canceled surfaced from a per-call sub-context) return value
// is classified as "down"; any other non-nil error is classified as "bad".
type Func func(ctx context.Context, node structs.NodeID) error

// Do runs fn over every node in nodes with at most concurrency calls
// in flight at once, passing ctx to each call, and returns once every
// call has returned; it does not return early when ctx is done.
func Do(ctx context.Context, nodes structs.NodeSet, concurrency int, fn Func) Result {
	if concurrency <= 0 {
		concurrency = 1
	}

	res := Result{Good: structs.NewNodeSet(), Bad: make(map[structs.NodeID]error), Down: structs.NewNodeSet()}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for _, n := range nodes.Slice() {
		node := n
		g.Go(func() error {
			err := fn(ctx, node)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Good.Insert(node)
			case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
				res.Down.Insert(node)
			default:
				res.Bad[node] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// OK reports whether every node in the fan-out succeeded.
func (r Result) OK() bool {
	return len(r.Bad) == 0 && r.Down.Size() == 0
}
