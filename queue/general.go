// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package queue

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/frugal-object-store/segsync/device"
	"github.com/frugal-object-store/segsync/event"
	"github.com/frugal-object-store/segsync/metrics"
)

// Error is the queue package's error class.
var Error = errs.Class("queue")

// maxWait is the hard ceiling on how long a RepairContent item may cause
// the general queue to wait before re-examination, regardless of the
// put_content_timeout carried by the originating Putted event.
const maxWait = 60 * time.Second

// GeneralQueueExecutor absorbs Putted/Deleted events and drives repair-prep
// and deletion tasks on the local device, one at a time. It is a lazy
// sequence yielding ObjectVersions: each yielded version is a repair
// candidate whose prep completed successfully and should be handed to the
// RepairQueueExecutor.
type GeneralQueueExecutor struct {
	log    *zap.Logger
	node   event.NodeID
	device device.Handle
	metric *metrics.Registry

	repairPrepQueue repairPrepHeap
	deleteQueue     []event.ObjectVersion
	candidates      map[event.ObjectVersion]struct{}

	task *task
	now  func() time.Time
}

// NewGeneralQueueExecutor constructs an empty, idle GeneralQueueExecutor.
func NewGeneralQueueExecutor(log *zap.Logger, node event.NodeID, dev device.Handle, metric *metrics.Registry) *GeneralQueueExecutor {
	return &GeneralQueueExecutor{
		log:        log,
		node:       node,
		device:     dev,
		metric:     metric,
		candidates: make(map[event.ObjectVersion]struct{}),
		now:        time.Now,
	}
}

// SetNow overrides the clock used for put_content_timeout scheduling,
// for deterministic tests.
func (g *GeneralQueueExecutor) SetNow(now func() time.Time) { g.now = now }

// Device returns the device handle this executor was constructed with, so
// other components (SegmentGc) can share it without a second wiring path.
func (g *GeneralQueueExecutor) Device() device.Handle { return g.device }

// Push enqueues the effect of a Putted or Deleted event. FullSync events
// are not handled here — see gc.SegmentGc.
func (g *GeneralQueueExecutor) Push(e event.Event) {
	switch {
	case e.Putted != nil:
		startTime := g.now().Add(e.Putted.PutContentTimeout)
		g.repairPrepQueue.push(repairPrepItem{startTime: startTime, version: e.Putted.Version})
		g.candidates[e.Putted.Version] = struct{}{}
		if g.metric != nil {
			g.metric.EnqueuedItems.WithLabelValues("repair").Inc()
		}
	case e.Deleted != nil:
		delete(g.candidates, e.Deleted.Version)
		g.deleteQueue = append(g.deleteQueue, e.Deleted.Version)
		if g.metric != nil {
			g.metric.EnqueuedItems.WithLabelValues("delete").Inc()
		}
	}
}

// poppedWork is the result of applying the pop policy of spec.md §4.2.
type poppedWork struct {
	isRepairPrep bool
	version      event.ObjectVersion
	deleteBatch  []event.ObjectVersion
}

// pop implements the priority pop policy: repair-prep (subject to
// candidacy and readiness) beats deletion beats idle. When a pending
// repair item is not yet ready it installs a Wait task capped at maxWait
// and returns no work, which (matching the Rust source) also defers any
// ready deletes until the wait resolves.
func (g *GeneralQueueExecutor) pop() (poppedWork, bool) {
	for {
		if item, ok := g.repairPrepQueue.pop(); ok {
			if _, isCandidate := g.candidates[item.version]; !isCandidate {
				// the put was already superseded by a delete; drop and retry.
				continue
			}
			wait := item.startTime.Sub(g.now())
			if wait > 0 {
				if wait > maxWait {
					wait = maxWait
				}
				g.repairPrepQueue.push(item)
				g.startWait(wait)
				return poppedWork{}, false
			}
			return poppedWork{isRepairPrep: true, version: item.version}, true
		}
		if len(g.deleteQueue) > 0 {
			v := g.deleteQueue[0]
			g.deleteQueue = g.deleteQueue[1:]
			return poppedWork{deleteBatch: []event.ObjectVersion{v}}, true
		}
		return poppedWork{}, false
	}
}

func (g *GeneralQueueExecutor) startWait(d time.Duration) {
	done := make(chan struct{})
	timer := time.NewTimer(d)
	t := &task{kind: kindWait, done: done, timer: timer}
	go func() {
		<-timer.C
		close(done)
	}()
	g.task = t
}

func (g *GeneralQueueExecutor) startDelete(ctx context.Context, versions []event.ObjectVersion) {
	done := make(chan struct{})
	t := &task{kind: kindDelete, done: done}
	g.task = t
	go func() {
		defer close(done)
		for _, v := range versions {
			id := event.PayloadLumpID(g.node, v)
			if _, err := g.device.Delete(ctx, id); err != nil {
				t.err = Error.Wrap(err)
				return
			}
		}
	}()
}

func (g *GeneralQueueExecutor) startRepairPrep(ctx context.Context, version event.ObjectVersion) {
	done := make(chan struct{})
	t := &task{kind: kindRepairPrep, done: done, version: version}
	g.task = t
	go func() {
		defer close(done)
		// Head the version's payload lump as a cheap device check. Only a
		// device error fails the prep; the version is yielded for repair
		// whether or not the fragment is already present.
		id := event.PayloadLumpID(g.node, version)
		if _, err := g.device.Head(ctx, id); err != nil {
			t.err = Error.Wrap(err)
		}
	}()
}

// Poll advances the current task (if any is ready) and, if idle, starts
// the next one according to the pop policy. It returns the version of a
// successfully prepped repair candidate, if one completed this tick.
func (g *GeneralQueueExecutor) Poll(ctx context.Context) *event.ObjectVersion {
	if g.task != nil && g.task.ready() {
		finished := g.task
		g.task = nil
		switch finished.kind {
		case kindRepairPrep:
			if g.metric != nil {
				g.metric.DequeuedItems.WithLabelValues("repair").Inc()
			}
			if finished.err != nil {
				g.log.Warn("repair prep failed; version dropped",
					zap.Uint64("version", uint64(finished.version)), zap.Error(finished.err))
			} else {
				v := finished.version
				return &v
			}
		case kindDelete:
			if g.metric != nil {
				g.metric.DequeuedItems.WithLabelValues("delete").Inc()
			}
			if finished.err != nil {
				g.log.Warn("delete task failed", zap.Error(finished.err))
			}
		case kindWait:
			// nothing to report; pop() will be retried below.
		}
	}

	if g.task == nil {
		if work, ok := g.pop(); ok {
			if work.isRepairPrep {
				g.startRepairPrep(ctx, work.version)
			} else {
				g.startDelete(ctx, work.deleteBatch)
			}
		}
	}
	return nil
}
