// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/frugal-object-store/segsync/event"
	"github.com/frugal-object-store/segsync/service"
)

func TestAcquireRepairLockIsBoundedAndNonBlocking(t *testing.T) {
	svc := service.New(zaptest.NewLogger(t), 2)

	lockA, ok := svc.AcquireRepairLock()
	require.True(t, ok)
	_, ok = svc.AcquireRepairLock()
	require.True(t, ok)

	_, ok = svc.AcquireRepairLock()
	require.False(t, ok, "a third concurrent repair must not be admitted")

	lockA.Release()
	_, ok = svc.AcquireRepairLock()
	require.True(t, ok, "releasing a permit must free a slot")
}

type recordingNode struct {
	snapshotted int32
	stopped     int32
	exited      int32
}

func (n *recordingNode) TakeSnapshot(ctx context.Context) { atomic.AddInt32(&n.snapshotted, 1) }
func (n *recordingNode) Stop(ctx context.Context, done chan<- struct{}) {
	atomic.AddInt32(&n.stopped, 1)
	close(done)
}
func (n *recordingNode) Exit(ctx context.Context) { atomic.AddInt32(&n.exited, 1) }

func TestStopSnapshotsBeforeExiting(t *testing.T) {
	svc := service.New(zaptest.NewLogger(t), 1)
	nodes := []*recordingNode{{}, {}, {}}
	for i, n := range nodes {
		svc.AddNode(context.Background(), &service.NodeHandle{
			ID:   event.NodeID{Segment: uint64(i)},
			Node: n,
		})
	}

	svc.Stop(context.Background())

	for _, n := range nodes {
		require.EqualValues(t, 1, atomic.LoadInt32(&n.stopped))
		require.EqualValues(t, 1, atomic.LoadInt32(&n.exited))
	}
}

func TestAddNodeIgnoredAfterShutdownBegins(t *testing.T) {
	svc := service.New(zaptest.NewLogger(t), 1)
	svc.Stop(context.Background())

	n := &recordingNode{}
	svc.AddNode(context.Background(), &service.NodeHandle{ID: event.NodeID{Segment: 1}, Node: n})

	time.Sleep(10 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&n.exited))
}

func TestGetNodeAndIsStopping(t *testing.T) {
	svc := service.New(zaptest.NewLogger(t), 1)
	require.False(t, svc.IsStopping())

	id := event.NodeID{Segment: 7}
	_, ok := svc.GetNode(id)
	require.False(t, ok, "an unregistered node must not be found")

	n := &recordingNode{}
	h := &service.NodeHandle{ID: id, Node: n}
	svc.AddNode(context.Background(), h)

	got, ok := svc.GetNode(id)
	require.True(t, ok)
	require.Same(t, h, got)

	svc.Stop(context.Background())
	require.True(t, svc.IsStopping())
	_, ok = svc.GetNode(id)
	require.False(t, ok, "Stop must clear the registry")
}

func TestStopNodeLeavesSiblingsRunning(t *testing.T) {
	svc := service.New(zaptest.NewLogger(t), 1)
	target := &recordingNode{}
	sibling := &recordingNode{}
	svc.AddNode(context.Background(), &service.NodeHandle{ID: event.NodeID{Segment: 1}, Node: target})
	svc.AddNode(context.Background(), &service.NodeHandle{ID: event.NodeID{Segment: 2}, Node: sibling})

	require.NoError(t, svc.StopNode(context.Background(), event.NodeID{Segment: 1}))

	require.EqualValues(t, 1, atomic.LoadInt32(&target.stopped))
	require.EqualValues(t, 1, atomic.LoadInt32(&target.exited))
	require.EqualValues(t, 0, atomic.LoadInt32(&sibling.stopped))
	require.EqualValues(t, 0, atomic.LoadInt32(&sibling.exited))

	_, ok := svc.GetNode(event.NodeID{Segment: 1})
	require.False(t, ok, "StopNode must remove the node from the registry")
	_, ok = svc.GetNode(event.NodeID{Segment: 2})
	require.True(t, ok)

	require.False(t, svc.IsStopping(), "StopNode must not trigger whole-service shutdown")
}

func TestStopNodeErrorsOnUnknownNode(t *testing.T) {
	svc := service.New(zaptest.NewLogger(t), 1)
	err := svc.StopNode(context.Background(), event.NodeID{Segment: 99})
	require.Error(t, err)
}
