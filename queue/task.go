// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

// Package queue implements the two synchronizer work queues described by
// the specification: GeneralQueueExecutor (repair-prep + delete) and
// RepairQueueExecutor (ascending-version repair with idleness admission
// and a global concurrency gate). Both hold exactly one outstanding task
// at a time, modeled here as a goroutine-backed future with a done
// channel — the closest idiomatic-Go analogue of the teacher's poll-based
// Task state machine.
package queue

import (
	"time"

	"github.com/frugal-object-store/segsync/event"
)

// kind names the shape of work a task slot is currently doing.
type kind int

// Task kinds, mirroring the Idle/Wait/Delete/RepairPrep/Repair states of
// the original synchronizer's Task enum.
const (
	kindIdle kind = iota
	kindWait
	kindDelete
	kindRepairPrep
	kindRepair
)

// task is a single outstanding unit of work. It is started by spawning a
// goroutine (or, for kindWait, a time.Timer) that eventually closes done;
// err and version are only safe to read once a receive from done has
// completed, since the close happens-before any such receive.
type task struct {
	kind    kind
	done    chan struct{}
	err     error
	version event.ObjectVersion // meaningful only for kindRepairPrep and kindRepair
	timer   *time.Timer         // only set for kindWait
}

// sleeping reports whether the task slot is not doing device/network work
// right now (Idle or waiting on a timer) — used by the repair queue to
// decide when its idleSince clock should be refreshed.
func (t *task) sleeping() bool {
	return t == nil || t.kind == kindIdle || t.kind == kindWait
}

// ready reports whether the task has finished without blocking.
func (t *task) ready() bool {
	if t == nil {
		return true
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
