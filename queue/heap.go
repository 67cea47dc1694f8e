// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package queue

import (
	"container/heap"
	"time"

	"github.com/frugal-object-store/segsync/event"
)

// shrinkThreshold is the point above which an emptying queue reallocates a
// smaller backing array, matching the Rust implementation's
// `shrink_to_fit` calls gated on `capacity() > 32 && len() < capacity()/2`.
const shrinkThreshold = 32

// repairPrepItem is a pending RepairContent entry: repair of version may
// not start before startTime, which is now+put_content_timeout at the time
// the Putted event arrived.
type repairPrepItem struct {
	startTime time.Time
	version   event.ObjectVersion
}

// repairPrepHeap is a min-heap of repairPrepItem ordered by ascending
// startTime, then ascending version — the total order described in
// spec.md §3 for RepairContent TodoItems.
type repairPrepHeap struct {
	items []repairPrepItem
}

func (h *repairPrepHeap) Len() int { return len(h.items) }
func (h *repairPrepHeap) Less(i, j int) bool {
	if !h.items[i].startTime.Equal(h.items[j].startTime) {
		return h.items[i].startTime.Before(h.items[j].startTime)
	}
	return h.items[i].version < h.items[j].version
}
func (h *repairPrepHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *repairPrepHeap) Push(x interface{}) {
	h.items = append(h.items, x.(repairPrepItem))
}
func (h *repairPrepHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// push inserts item, maintaining the heap invariant.
func (h *repairPrepHeap) push(item repairPrepItem) {
	heap.Push(h, item)
}

// pop removes and returns the lowest (startTime, version) item, shrinking
// the backing array when it has become mostly empty.
func (h *repairPrepHeap) pop() (repairPrepItem, bool) {
	if h.Len() == 0 {
		return repairPrepItem{}, false
	}
	item := heap.Pop(h).(repairPrepItem)
	h.maybeShrink()
	return item, true
}

func (h *repairPrepHeap) maybeShrink() {
	if cap(h.items) > shrinkThreshold && len(h.items) < cap(h.items)/2 {
		shrunk := make([]repairPrepItem, len(h.items))
		copy(shrunk, h.items)
		h.items = shrunk
	}
}

// repairHeap is a min-heap of ObjectVersion ascending, used by the repair
// queue so the lowest (oldest) version is always repaired first.
type repairHeap struct {
	items []event.ObjectVersion
}

func (h *repairHeap) Len() int            { return len(h.items) }
func (h *repairHeap) Less(i, j int) bool  { return h.items[i] < h.items[j] }
func (h *repairHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *repairHeap) Push(x interface{})  { h.items = append(h.items, x.(event.ObjectVersion)) }
func (h *repairHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	v := old[n-1]
	h.items = old[:n-1]
	return v
}

func (h *repairHeap) push(v event.ObjectVersion) {
	heap.Push(h, v)
}

func (h *repairHeap) pop() (event.ObjectVersion, bool) {
	if h.Len() == 0 {
		return 0, false
	}
	v := heap.Pop(h).(event.ObjectVersion)
	if cap(h.items) > shrinkThreshold && len(h.items) < cap(h.items)/2 {
		shrunk := make([]event.ObjectVersion, len(h.items))
		copy(shrunk, h.items)
		h.items = shrunk
	}
	return v, true
}
