// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

// Package device describes the contract the synchronizer core consumes to
// read/write/list/delete fragments keyed by a LumpId, and provides two
// implementations: an in-memory reference store for tests, and a
// file-backed store for real deployments.
package device

import (
	"context"

	"github.com/frugal-object-store/segsync/event"
)

// Handle is the device contract consumed by the core. All operations are
// asynchronous from the caller's point of view (they take a ctx and may
// block on I/O), retryable at the caller's discretion, and report device
// errors as a returned error — never a panic.
type Handle interface {
	// List returns a snapshot enumeration of every lump currently stored.
	List(ctx context.Context) ([]event.LumpID, error)
	// Head reports whether a lump with the given id exists.
	Head(ctx context.Context, id event.LumpID) (bool, error)
	// Delete removes a lump. Deleting an absent lump is not an error.
	Delete(ctx context.Context, id event.LumpID) (bool, error)
	// Put stores bytes under id, overwriting any previous content.
	Put(ctx context.Context, id event.LumpID, data []byte) error
	// Get retrieves the bytes stored under id.
	Get(ctx context.Context, id event.LumpID) ([]byte, error)
}
