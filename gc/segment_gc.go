// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

// Package gc implements SegmentGc, the bounded-step device scan that
// reconciles the local device against a point-in-time snapshot of the
// metadata state machine, grounded on storj.io/storj/satellite/gc.Service's
// structure (config, mon.Task tracing, one-pass-at-a-time loop) but
// reworked from a satellite-wide bloom-filter sweep into the single-node
// cursor-resumable scan described by the specification.
package gc

import (
	"context"
	"sort"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/frugal-object-store/segsync/device"
	"github.com/frugal-object-store/segsync/event"
	"github.com/frugal-object-store/segsync/metrics"
)

// Error is the gc package's error class.
var Error = errs.Class("gc")

var mon = monkit.Package()

// stepSize bounds how many lumps a single Poll call examines, so a full
// sweep never blocks the synchronizer's cooperative loop for long.
const stepSize = 256

// SegmentGc incrementally deletes payload lumps that are both older than
// the snapshot's commit point and absent from the snapshot, the same
// "orphaned by a FullSync" condition described in spec.md §5. The
// Synchronizer runs at most one sweep at a time: a FullSync that arrives
// while a sweep is in progress is dropped, not used to restart it.
type SegmentGc struct {
	log    *zap.Logger
	node   event.NodeID
	device device.Handle
	metric *metrics.Registry

	pending    []event.LumpID
	cursor     int
	machine    event.StateMachineSnapshot
	nextCommit event.LogIndex
	scanning   bool
}

// NewSegmentGc constructs an idle SegmentGc.
func NewSegmentGc(log *zap.Logger, node event.NodeID, dev device.Handle, metric *metrics.Registry) *SegmentGc {
	return &SegmentGc{log: log, node: node, device: dev, metric: metric}
}

// Start begins (or restarts) a sweep against the given snapshot, listing
// the device's current contents. The listing itself is not bounded by
// stepSize — only the subsequent per-lump decide-and-delete work is —
// matching the Rust source's distinct List-then-iterate phases.
func (g *SegmentGc) Start(ctx context.Context, full *event.FullSync) (err error) {
	defer mon.Task()(&ctx)(&err)

	lumps, err := g.device.List(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	// deterministic order makes a bounded scan resumable and testable.
	sort.Slice(lumps, func(i, j int) bool {
		return lumps[i].Version < lumps[j].Version
	})

	g.pending = lumps
	g.cursor = 0
	g.machine = full.Machine
	g.nextCommit = full.NextCommit
	g.scanning = true
	return nil
}

// Done reports whether there is no sweep in progress.
func (g *SegmentGc) Done() bool { return !g.scanning }

// Poll examines up to stepSize remaining lumps, deleting any payload lump
// whose version is below nextCommit and absent from the snapshot. It
// returns true once the sweep has examined every listed lump.
func (g *SegmentGc) Poll(ctx context.Context) (finished bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if !g.scanning {
		return true, nil
	}

	end := g.cursor + stepSize
	if end > len(g.pending) {
		end = len(g.pending)
	}
	deleted := 0
	for _, id := range g.pending[g.cursor:end] {
		if id.Kind != event.KindPayload {
			continue
		}
		if id.Version >= event.ObjectVersion(g.nextCommit) {
			continue
		}
		if g.machine.HasVersion(id.Version) {
			continue
		}
		if _, err := g.device.Delete(ctx, id); err != nil {
			return false, Error.Wrap(err)
		}
		deleted++
	}
	if deleted > 0 && g.metric != nil {
		g.metric.SegmentGcDeletes.Add(float64(deleted))
	}
	g.cursor = end

	if g.cursor >= len(g.pending) {
		g.scanning = false
		g.pending = nil
		if g.metric != nil {
			g.metric.SegmentGcPasses.Inc()
		}
		g.log.Debug("segment gc sweep complete", zap.Uint64("node_segment", g.node.Segment))
		return true, nil
	}
	return false, nil
}
