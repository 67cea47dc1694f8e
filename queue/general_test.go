// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/frugal-object-store/segsync/device"
	"github.com/frugal-object-store/segsync/event"
	"github.com/frugal-object-store/segsync/queue"
)

func TestGeneralQueueRepairPrepReadyImmediately(t *testing.T) {
	log := zaptest.NewLogger(t)
	dev := device.NewMemory()
	g := queue.NewGeneralQueueExecutor(log, event.NodeID{}, dev, nil)

	g.Push(event.PuttedEvent(1, 0))

	ctx := context.Background()
	var version *event.ObjectVersion
	require.Eventually(t, func() bool {
		version = g.Poll(ctx)
		return version != nil
	}, time.Second, time.Millisecond)
	require.Equal(t, event.ObjectVersion(1), *version)
}

func TestGeneralQueueDeleteSupersedesPendingRepairPrep(t *testing.T) {
	log := zaptest.NewLogger(t)
	dev := device.NewMemory()
	g := queue.NewGeneralQueueExecutor(log, event.NodeID{}, dev, nil)

	now := time.Now()
	g.SetNow(func() time.Time { return now })

	// a long put_content_timeout keeps the repair-prep item pending.
	g.Push(event.PuttedEvent(1, time.Hour))
	g.Push(event.DeletedEvent(1))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		version := g.Poll(ctx)
		require.Nil(t, version, "superseded repair candidate must never be yielded")
	}
}

func TestGeneralQueueDeleteRunsWhenNoRepairPrepPending(t *testing.T) {
	log := zaptest.NewLogger(t)
	dev := device.NewMemory()
	id := event.PayloadLumpID(event.NodeID{}, 7)
	require.NoError(t, dev.Put(context.Background(), id, []byte("payload")))

	g := queue.NewGeneralQueueExecutor(log, event.NodeID{}, dev, nil)
	g.Push(event.DeletedEvent(7))

	ctx := context.Background()
	require.Eventually(t, func() bool {
		g.Poll(ctx)
		ok, err := dev.Head(ctx, id)
		require.NoError(t, err)
		return !ok
	}, time.Second, time.Millisecond)
}
