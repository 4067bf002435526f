// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

// TestBroadcaster_SendRecv asserts the latest send to a broadcaster is
// received by listeners.
func TestBroadcaster_SendRecv(t *testing.T) {
	b := NewBroadcaster[int](hclog.NewNullLogger())
	defer b.Close()

	l := b.Listen()
	defer l.Close()
	select {
	case <-l.Ch():
		t.Fatalf("unexpected initial value")
	case <-time.After(10 * time.Millisecond):
	}

	require.NoError(t, b.Send(10))
	require.Equal(t, 10, <-l.Ch())

	require.NoError(t, b.Send(30))
	require.NoError(t, b.Send(40))
	require.Equal(t, 40, <-l.Ch())
}

// TestBroadcaster_RecvBlocks asserts listeners are blocked until a send occurs.
func TestBroadcaster_RecvBlocks(t *testing.T) {
	b := NewBroadcaster[int](hclog.NewNullLogger())
	defer b.Close()

	l1 := b.Listen()
	defer l1.Close()
	l2 := b.Listen()
	defer l2.Close()

	done := make(chan int, 2)
	go func() { <-l1.Ch(); done <- 1 }()
	go func() { <-l2.Ch(); done <- 1 }()

	select {
	case <-done:
		t.Fatalf("unexpected receive by a listener")
	case <-time.After(10 * time.Millisecond):
	}

	require.NoError(t, b.Send(1))
	<-done
	<-done
}

// TestBroadcaster_SendAfterClose asserts Send fails once the broadcaster is
// closed.
func TestBroadcaster_SendAfterClose(t *testing.T) {
	b := NewBroadcaster[int](hclog.NewNullLogger())
	b.Close()
	require.ErrorIs(t, b.Send(1), ErrBroadcasterClosed)
}
