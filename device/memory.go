// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package device

import (
	"context"
	"sync"

	"github.com/zeebo/errs"

	"github.com/frugal-object-store/segsync/event"
)

// Error is the device package's error class.
var Error = errs.Class("device")

// Memory is an in-memory Handle, used by tests and the CLI demo. It is
// grounded on storj.io/storj/storage/teststore's map-backed blob store:
// small, mutex-guarded, no persistence.
type Memory struct {
	mu    sync.Mutex
	lumps map[event.LumpID][]byte
}

// NewMemory returns an empty in-memory device.
func NewMemory() *Memory {
	return &Memory{lumps: make(map[event.LumpID][]byte)}
}

// List implements Handle.
func (m *Memory) List(ctx context.Context) ([]event.LumpID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]event.LumpID, 0, len(m.lumps))
	for id := range m.lumps {
		ids = append(ids, id)
	}
	return ids, nil
}

// Head implements Handle.
func (m *Memory) Head(ctx context.Context, id event.LumpID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lumps[id]
	return ok, nil
}

// Delete implements Handle.
func (m *Memory) Delete(ctx context.Context, id event.LumpID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.lumps[id]
	delete(m.lumps, id)
	return existed, nil
}

// Put implements Handle.
func (m *Memory) Put(ctx context.Context, id event.LumpID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.lumps[id] = cp
	return nil
}

// Get implements Handle.
func (m *Memory) Get(ctx context.Context, id event.LumpID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.lumps[id]
	if !ok {
		return nil, Error.New("lump not found: %+v", id)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Len returns the number of lumps currently stored, for test assertions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lumps)
}
