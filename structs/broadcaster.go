// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Broadcaster fans out the latest value of T to any number of listeners.
// Listeners that are not actively receiving only ever see the most recent
// value, never a backlog -- a slow subscriber cannot apply backpressure to
// the orchestrator. Every Listen() call gets its own channel with room
// for one value; Send drops a value the listener has not yet received
// and puts the new one in its place, so a listener receives each value
// at most once and never a superseded one.
type Broadcaster[T any] struct {
	logger hclog.Logger

	mu        sync.Mutex
	listeners map[*Listener[T]]struct{}
	closed    bool
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster[T any](logger hclog.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Broadcaster[T]{
		logger:    logger,
		listeners: make(map[*Listener[T]]struct{}),
	}
}

// Listener receives successive values sent to a Broadcaster.
type Listener[T any] struct {
	b  *Broadcaster[T]
	ch chan T
}

// Ch returns the channel on which new values are delivered.
func (l *Listener[T]) Ch() <-chan T {
	return l.ch
}

// Close unsubscribes the listener. Safe to call more than once.
func (l *Listener[T]) Close() {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	delete(l.b.listeners, l)
}

// Listen registers a new listener. The listener observes only values sent
// after Listen returns.
func (b *Broadcaster[T]) Listen() *Listener[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := &Listener[T]{b: b, ch: make(chan T, 1)}
	b.listeners[l] = struct{}{}
	return l
}

// Send delivers v to every current listener. It never blocks: a listener
// that already has an undelivered value has that value replaced, not
// queued behind.
func (b *Broadcaster[T]) Send(v T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBroadcasterClosed
	}
	for l := range b.listeners {
		select {
		case <-l.ch: // drop stale undelivered value, if any
		default:
		}
		l.ch <- v
	}
	return nil
}

// Close shuts down the broadcaster. Outstanding listeners keep whatever
// value they last received but will receive no further sends.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = make(map[*Listener[T]]struct{})
}
