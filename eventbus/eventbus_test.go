// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_DeliversMatchingKind(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe(KindBucketReady)
	defer sub.Close()

	b.Publish(Event{Kind: KindBucketReady, Bucket: "b1", Node: "n1"})

	select {
	case ev := <-sub.Events():
		require.Equal(t, "b1", ev.Bucket)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_DedupsIdenticalSuccessiveEvents(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe(KindJanitorFail)
	defer sub.Close()

	ev := Event{Kind: KindJanitorFail, Bucket: "b1", Reason: "timeout"}
	b.Publish(ev)
	b.Publish(ev) // identical repeat, should be suppressed

	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("first event not delivered")
	}
	select {
	case <-sub.Events():
		t.Fatal("duplicate event should have been suppressed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribedChannelReceivesNothing(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe(KindStopped)
	sub.Close()

	b.Publish(Event{Kind: KindStopped, Bucket: "b1"})

	select {
	case _, ok := <-sub.Events():
		require.False(t, ok)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_CloseClosesAllSubscriptions(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(KindBucketReady)

	b.Close()

	_, ok := <-sub.Events()
	require.False(t, ok)
}
