// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package eventbus implements the orchestrator's pubsub surface:
// {stopped, bucket, node, reason}, {bucket_ready, bucket, node} and
// similar notifications, delivered to subscriptions that are released by
// Subscription.Close or by closing the bus. The bus does not notice that
// a subscriber has exited: its subscription stays registered until one
// of those two calls.
package eventbus

import (
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-hclog"
	"github.com/nkvstore/orchestrator/structs"
)

// Kind names an event type.
type Kind string

const (
	KindStopped     Kind = "stopped"
	KindBucketReady Kind = "bucket_ready"
	KindDataLost    Kind = "data_lost"
	KindJanitorFail Kind = "janitor_failed"
)

// Event is one notification on the bus.
type Event struct {
	Kind   Kind
	Bucket string
	Node   structs.NodeID
	Reason string
}

// Bus is the orchestrator's event-publication surface.
type Bus interface {
	// Publish delivers ev to every current subscription matching kind.
	// A Publish that is identical (per go-cmp) to the immediately
	// preceding event of the same Kind and Bucket is suppressed, so a
	// flapping condition does not wake every subscriber on every tick.
	Publish(ev Event)
	// Subscribe registers interest in kind and returns a Subscription
	// whose Events channel delivers matching events until Close is
	// called or the bus itself is closed.
	Subscribe(kind Kind) *Subscription
	// Close tears down the bus and every outstanding subscription.
	Close()
}

// Subscription is a scoped handle to a bus registration: it is released
// on Close, and on every abnormal exit path a caller should defer that
// Close immediately after Subscribe returns; nothing else undoes the
// subscription while the bus is open.
type Subscription struct {
	kind   Kind
	ch     chan Event
	bus    *bus
	closed sync.Once
}

// Events returns the channel on which matching events are delivered.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes. Safe to call more than once and safe to call after
// the bus itself has been closed.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.bus.remove(s)
	})
}

type bus struct {
	logger hclog.Logger

	mu   sync.Mutex
	subs map[Kind]map[*Subscription]struct{}
	last map[[2]string]Event // (kind, bucket) -> last delivered event
}

// New constructs an in-process event bus.
func New(logger hclog.Logger) Bus {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &bus{
		logger: logger.Named("eventbus"),
		subs:   make(map[Kind]map[*Subscription]struct{}),
		last:   make(map[[2]string]Event),
	}
}

func (b *bus) Subscribe(kind Kind) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription{kind: kind, ch: make(chan Event, 16), bus: b}
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[*Subscription]struct{})
	}
	b.subs[kind][s] = struct{}{}
	return s
}

func (b *bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[s.kind], s)
}

func (b *bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := [2]string{string(ev.Kind), ev.Bucket}
	if prev, ok := b.last[key]; ok && cmp.Equal(prev, ev) {
		return
	}
	b.last[key] = ev

	for s := range b.subs[ev.Kind] {
		select {
		case s.ch <- ev:
		default:
			b.logger.Warn("subscriber lagging, dropping event", "kind", ev.Kind, "bucket", ev.Bucket)
		}
	}
}

func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for s := range subs {
			close(s.ch)
		}
	}
	b.subs = make(map[Kind]map[*Subscription]struct{})
}
