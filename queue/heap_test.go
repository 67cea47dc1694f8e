// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frugal-object-store/segsync/event"
)

func TestRepairPrepHeapOrdering(t *testing.T) {
	var h repairPrepHeap
	base := time.Now()

	h.push(repairPrepItem{startTime: base.Add(2 * time.Second), version: 5})
	h.push(repairPrepItem{startTime: base, version: 9})
	h.push(repairPrepItem{startTime: base, version: 3})
	h.push(repairPrepItem{startTime: base.Add(time.Second), version: 1})

	var got []event.ObjectVersion
	for h.Len() > 0 {
		item, ok := h.pop()
		require.True(t, ok)
		got = append(got, item.version)
	}
	require.Equal(t, []event.ObjectVersion{3, 9, 1, 5}, got)
}

func TestRepairPrepHeapShrinksWhenMostlyEmpty(t *testing.T) {
	var h repairPrepHeap
	for i := 0; i < 100; i++ {
		h.push(repairPrepItem{version: event.ObjectVersion(i)})
	}
	require.Greater(t, cap(h.items), shrinkThreshold)

	for i := 0; i < 90; i++ {
		_, ok := h.pop()
		require.True(t, ok)
	}
	// capacity 128 shrinks to 63 and then to 31; at or below shrinkThreshold
	// no further shrink happens, so 10 items keep a capacity of 31.
	require.LessOrEqual(t, cap(h.items), shrinkThreshold)
}

func TestRepairHeapAscending(t *testing.T) {
	var h repairHeap
	h.push(7)
	h.push(2)
	h.push(9)
	h.push(2)

	var got []event.ObjectVersion
	for h.Len() > 0 {
		v, ok := h.pop()
		require.True(t, ok)
		got = append(got, v)
	}
	require.Equal(t, []event.ObjectVersion{2, 2, 7, 9}, got)
}

func TestRepairHeapPopEmpty(t *testing.T) {
	var h repairHeap
	_, ok := h.pop()
	require.False(t, ok)
}
