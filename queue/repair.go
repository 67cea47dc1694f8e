// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/frugal-object-store/segsync/device"
	"github.com/frugal-object-store/segsync/event"
	"github.com/frugal-object-store/segsync/metrics"
	"github.com/frugal-object-store/segsync/storageclient"
)

// RepairLock is a held permit from the process-wide repair concurrency
// gate; it must be released exactly once when the repair task that
// acquired it finishes, regardless of outcome.
type RepairLock interface {
	Release()
}

// RepairLockAcquirer is satisfied by service.Service: it hands out
// RepairLocks on a best-effort, non-blocking basis so a single slow node
// cannot stall every other node's repair admission.
type RepairLockAcquirer interface {
	AcquireRepairLock() (RepairLock, bool)
}

// RepairIdleness controls whether RepairQueueExecutor may admit a new
// repair task, based on how long it has been since this executor last ran
// one.
type RepairIdleness struct {
	disabled  bool
	threshold time.Duration
}

// RepairIdlenessDisabled means no new repair is ever admitted. This is the
// default, matching the original synchronizer's RepairIdleness::Disabled
// construction, which only ever starts a repair inside the
// RepairIdleness::Threshold match arm.
func RepairIdlenessDisabled() RepairIdleness { return RepairIdleness{disabled: true} }

// RepairIdlenessThreshold admits repairs once the executor itself (not any
// other queue) has gone without running a repair task for at least d.
func RepairIdlenessThreshold(d time.Duration) RepairIdleness {
	return RepairIdleness{threshold: d}
}

func (r RepairIdleness) satisfiedBy(idleSince time.Time, now time.Time) bool {
	if r.disabled {
		return false
	}
	return now.Sub(idleSince) >= r.threshold
}

// RepairQueueExecutor drives ascending-version repair of candidates handed
// to it by GeneralQueueExecutor, subject to idleness-gated admission and a
// process-wide concurrency permit.
type RepairQueueExecutor struct {
	log    *zap.Logger
	node   event.NodeID
	device device.Handle
	client storageclient.Client
	metric *metrics.Registry
	locker RepairLockAcquirer

	versions repairHeap
	idleness RepairIdleness

	task      *task
	lock      RepairLock
	started   time.Time
	now       func() time.Time
	idleSince time.Time
}

// NewRepairQueueExecutor constructs an empty RepairQueueExecutor.
func NewRepairQueueExecutor(log *zap.Logger, node event.NodeID, dev device.Handle, client storageclient.Client, metric *metrics.Registry, locker RepairLockAcquirer) *RepairQueueExecutor {
	now := time.Now
	return &RepairQueueExecutor{
		log:       log,
		node:      node,
		device:    dev,
		client:    client,
		metric:    metric,
		locker:    locker,
		idleness:  RepairIdlenessDisabled(),
		now:       now,
		idleSince: now(),
	}
}

// SetNow overrides the clock, for deterministic tests.
func (r *RepairQueueExecutor) SetNow(now func() time.Time) { r.now = now; r.idleSince = now() }

// SetRepairIdlenessThreshold changes the admission policy.
func (r *RepairQueueExecutor) SetRepairIdlenessThreshold(idleness RepairIdleness) {
	r.idleness = idleness
	r.log.Info("repair idleness threshold changed",
		zap.Bool("disabled", idleness.disabled), zap.Duration("threshold", idleness.threshold))
}

// Push enqueues version for eventual repair.
func (r *RepairQueueExecutor) Push(version event.ObjectVersion) {
	r.versions.push(version)
	if r.metric != nil {
		r.metric.EnqueuedItems.WithLabelValues("repair-exec").Inc()
	}
}

// Poll advances the current repair task, if any, releasing its lock on
// completion, then starts the next one if idleness and concurrency both
// permit. Idleness is measured against this executor's own repair activity:
// the clock is pushed forward on every tick a repair is actually running,
// and is deliberately left untouched when a task merely finishes (unlike
// the original synchronizer's last_not_idle, which resets on every Idle
// poll — see DESIGN.md for why that reset produces a busy-loop/zero-gap
// bug this executor avoids).
func (r *RepairQueueExecutor) Poll(ctx context.Context) {
	if r.task != nil && !r.task.sleeping() {
		r.idleSince = r.now()
	}

	if r.task != nil && r.task.ready() {
		finished := r.task
		r.task = nil
		if r.lock != nil {
			r.lock.Release()
			r.lock = nil
		}
		if r.metric != nil {
			r.metric.DequeuedItems.WithLabelValues("repair-exec").Inc()
			r.metric.RepairDuration.Observe(r.now().Sub(r.started).Seconds())
		}
		if finished.err != nil {
			r.log.Warn("repair failed", zap.Uint64("version", uint64(finished.version)), zap.Error(finished.err))
			if r.metric != nil {
				r.metric.RepairFailures.Inc()
			}
		}
	}

	if r.task != nil {
		return
	}
	if r.versions.Len() == 0 {
		return
	}
	if !r.idleness.satisfiedBy(r.idleSince, r.now()) {
		return
	}
	lock, ok := r.locker.AcquireRepairLock()
	if !ok {
		return
	}
	version, _ := r.versions.pop()
	r.lock = lock
	r.started = r.now()
	r.startRepair(ctx, version)
}

func (r *RepairQueueExecutor) startRepair(ctx context.Context, version event.ObjectVersion) {
	done := make(chan struct{})
	t := &task{kind: kindRepair, done: done, version: version}
	r.task = t
	go func() {
		defer close(done)
		data, err := r.client.Get(ctx, version)
		if err != nil {
			t.err = Error.Wrap(err)
			return
		}
		id := event.PayloadLumpID(r.node, version)
		if err := r.device.Put(ctx, id, data); err != nil {
			t.err = Error.Wrap(err)
		}
	}()
}
