// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

// Package synchronizer composes the general queue, repair queue, and
// segment GC into the single per-node driver described by the
// specification, grounded directly on
// _examples/original_source/frugalos_segment/src/synchronizer.rs's
// Synchronizer::poll body. The Rust version is a hand-rolled poll-based
// Future; this reworks it into a goroutine driving a ticker, which is the
// idiomatic Go shape for "run this cooperative step forever" (see
// storj.io/storj/satellite/gc.Service.Run's sync2.Cycle.Run usage).
package synchronizer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"storj.io/common/sync2"

	"github.com/frugal-object-store/segsync/device"
	"github.com/frugal-object-store/segsync/event"
	"github.com/frugal-object-store/segsync/gc"
	"github.com/frugal-object-store/segsync/metrics"
	"github.com/frugal-object-store/segsync/queue"
	"github.com/frugal-object-store/segsync/storageclient"
)

// tickInterval is how often Run drives a poll step; events queued by
// HandleEvent are applied at the start of the next step. This has no
// equivalent constant in the Rust source, which is driven by a reactor
// instead of a ticker.
const tickInterval = 50 * time.Millisecond

// Synchronizer is the per-node driver: it absorbs the event stream emitted
// by the local consensus state machine and keeps the local device's
// payload lumps converged with it.
type Synchronizer struct {
	log    *zap.Logger
	node   event.NodeID
	client storageclient.Client
	metric *metrics.Registry

	general *queue.GeneralQueueExecutor
	repair  *queue.RepairQueueExecutor
	gc      *gc.SegmentGc

	events chan event.Event
}

// New constructs a Synchronizer for node, wiring its queues to dev and
// client and registering metrics on metric.
func New(log *zap.Logger, node event.NodeID, dev device.Handle, client storageclient.Client, metric *metrics.Registry, locker queue.RepairLockAcquirer) *Synchronizer {
	return &Synchronizer{
		log:     log,
		node:    node,
		client:  client,
		metric:  metric,
		general: queue.NewGeneralQueueExecutor(log, node, dev, metric),
		repair:  queue.NewRepairQueueExecutor(log, node, dev, client, metric, locker),
		events:  make(chan event.Event, 256),
	}
}

// HandleEvent enqueues an event for processing on the next Run iteration.
// Metadata-only segments (client.IsMetadata()) never need repair or
// deletion, matching the Rust source's early is_metadata guard.
func (s *Synchronizer) HandleEvent(e event.Event) {
	if s.client.IsMetadata() {
		return
	}
	s.events <- e
}

// SetRepairIdlenessThreshold changes the repair queue's admission policy.
func (s *Synchronizer) SetRepairIdlenessThreshold(idleness queue.RepairIdleness) {
	s.repair.SetRepairIdlenessThreshold(idleness)
}

// Run drives the synchronizer until ctx is cancelled. It never returns an
// error on its own account; device/network errors surface as log lines
// and metric increments, matching the Rust source's "never stops, never
// fails" comment on RepairQueueExecutor. The step cadence is driven by a
// storj.io/common/sync2.Cycle, the same primitive
// satellite/gc.Service.Run ticks its own sweep with.
func (s *Synchronizer) Run(ctx context.Context) error {
	cycle := sync2.NewCycle(tickInterval)
	return cycle.Run(ctx, func(ctx context.Context) error {
		s.drainEvents()
		s.poll(ctx)
		return nil
	})
}

// drainEvents applies every event queued since the last step, without
// blocking — HandleEvent may be called concurrently with Run.
func (s *Synchronizer) drainEvents() {
	for {
		select {
		case e := <-s.events:
			s.dispatch(e)
		default:
			return
		}
	}
}

func (s *Synchronizer) dispatch(e event.Event) {
	switch {
	case e.Putted != nil, e.Deleted != nil:
		s.general.Push(e)
	case e.Full != nil:
		if s.gc == nil || s.gc.Done() {
			s.gc = gc.NewSegmentGc(s.log, s.node, deviceOf(s.general), s.metric)
			if err := s.gc.Start(context.Background(), e.Full); err != nil {
				s.log.Warn("failed to start segment gc sweep", zap.Error(err))
				s.gc = nil
			}
		}
	}
}

// deviceOf recovers the device.Handle a GeneralQueueExecutor was built
// with, so SegmentGc can share it without the Synchronizer needing to
// hold a second reference. A getter is simpler than threading the handle
// through two constructors.
func deviceOf(g *queue.GeneralQueueExecutor) device.Handle {
	return g.Device()
}

func (s *Synchronizer) poll(ctx context.Context) {
	if s.gc != nil {
		finished, err := s.gc.Poll(ctx)
		if err != nil {
			s.log.Warn("segment gc step failed", zap.Error(err))
			s.gc = nil
		} else if finished {
			s.gc = nil
		}
	}

	if version := s.general.Poll(ctx); version != nil {
		s.repair.Push(*version)
	}

	s.repair.Poll(ctx)
}
