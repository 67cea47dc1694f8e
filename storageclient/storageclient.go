// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

// Package storageclient describes the contract the synchronizer core uses
// to fetch and store object payloads, independent of whether the segment
// is replicated (n full copies) or dispersed (erasure-coded k-of-m). The
// actual network fan-out, order limits, and erasure math are out of scope
// for this module — these are reference/test-only implementations that
// operate on an in-memory peer set, standing in for the RPC-backed client
// described in the specification.
package storageclient

import (
	"context"

	"github.com/zeebo/errs"

	"github.com/frugal-object-store/segsync/event"
)

// Error is the storageclient package's error class.
var Error = errs.Class("storageclient")

// Client is the contract consumed by the repair queue. For dispersed
// storage, Get internally reads sufficient surviving fragments and
// rebuilds them; the core never sees individual shares.
type Client interface {
	// Get reconstructs and returns the payload bytes for version.
	Get(ctx context.Context, version event.ObjectVersion) ([]byte, error)
	// Put stores the payload bytes for version, encoding/distributing as
	// required by the segment's redundancy mode.
	Put(ctx context.Context, version event.ObjectVersion, data []byte) error
	// IsMetadata reports whether this segment carries no payload data at
	// all (metadata-only segments are ignored by the synchronizer).
	IsMetadata() bool
}
