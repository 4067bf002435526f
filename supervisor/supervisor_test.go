// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestStart_CancelPropagates(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := Start(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.Cancel()
	require.ErrorIs(t, h.Wait(), context.Canceled)
}

func TestStart_LateCancelIsSuccess(t *testing.T) {
	h := Start(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, h.Wait())
	h.Cancel()
}

func TestOneForOne_RestartsUnderBudget(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0
	err := OneForOne(context.Background(), nil, RestartPolicy{MaxRestarts: 3, Window: time.Second}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return boom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestOneForOne_ExceedsBudget(t *testing.T) {
	boom := errors.New("boom")
	err := OneForOne(context.Background(), nil, RestartPolicy{MaxRestarts: 2, Window: time.Second}, func(ctx context.Context) error {
		return boom
	})
	var tooMany *ErrTooManyRestarts
	require.ErrorAs(t, err, &tooMany)
	require.ErrorIs(t, err, boom)
}

func TestGroup_FirstErrorCancelsSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)
	g := NewGroup(context.Background())
	boom := errors.New("boom")

	siblingCancelled := make(chan struct{})
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		close(siblingCancelled)
		return ctx.Err()
	})
	g.Go(func(ctx context.Context) error { return boom })

	err := g.Wait()
	require.ErrorIs(t, err, boom)
	<-siblingCancelled
}
