// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package gc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/frugal-object-store/segsync/device"
	"github.com/frugal-object-store/segsync/event"
	"github.com/frugal-object-store/segsync/gc"
)

type fakeSnapshot map[event.ObjectVersion]struct{}

func (s fakeSnapshot) HasVersion(v event.ObjectVersion) bool {
	_, ok := s[v]
	return ok
}

func TestSegmentGcDeletesOrphanedPayloads(t *testing.T) {
	ctx := context.Background()
	dev := device.NewMemory()
	node := event.NodeID{Segment: 1}

	keep := event.PayloadLumpID(node, 5)
	orphan := event.PayloadLumpID(node, 2)
	future := event.PayloadLumpID(node, 99) // beyond next_commit, must survive

	require.NoError(t, dev.Put(ctx, keep, []byte("a")))
	require.NoError(t, dev.Put(ctx, orphan, []byte("b")))
	require.NoError(t, dev.Put(ctx, future, []byte("c")))

	g := gc.NewSegmentGc(zaptest.NewLogger(t), node, dev, nil)
	snapshot := fakeSnapshot{5: {}}
	require.NoError(t, g.Start(ctx, &event.FullSync{Machine: snapshot, NextCommit: 10}))

	for !g.Done() {
		_, err := g.Poll(ctx)
		require.NoError(t, err)
	}

	_, err := dev.Get(ctx, keep)
	require.NoError(t, err)
	_, err = dev.Get(ctx, future)
	require.NoError(t, err)
	_, err = dev.Get(ctx, orphan)
	require.Error(t, err, "orphaned version below next_commit must be deleted")
}

func TestSegmentGcLeavesMetadataLumpsAlone(t *testing.T) {
	ctx := context.Background()
	dev := device.NewMemory()
	node := event.NodeID{}

	meta := event.LumpID{Node: node, Kind: event.KindMetadata, Version: 1}
	require.NoError(t, dev.Put(ctx, meta, []byte("log")))

	g := gc.NewSegmentGc(zaptest.NewLogger(t), node, dev, nil)
	require.NoError(t, g.Start(ctx, &event.FullSync{Machine: fakeSnapshot{}, NextCommit: 100}))
	for !g.Done() {
		_, err := g.Poll(ctx)
		require.NoError(t, err)
	}

	_, err := dev.Get(ctx, meta)
	require.NoError(t, err, "metadata lumps are never touched by segment gc")
}
