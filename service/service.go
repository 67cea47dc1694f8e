// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

// Package service hosts every local node's Synchronizer, coordinates the
// two-phase shutdown described by the specification, and hands out the
// process-wide repair concurrency permit. It is grounded on
// _examples/original_source/frugalos_mds/src/service.rs: the same
// snapshot-then-exit two-phase stop, and the same copy-on-write node
// registry (there built on atomic_immut::AtomicImmut; here a mutex
// guarding a copy-on-write map, see DESIGN.md for why the stdlib mutex was
// kept over an ecosystem atomic-map package for this one case).
package service

import (
	"context"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/frugal-object-store/segsync/event"
	"github.com/frugal-object-store/segsync/queue"
	"github.com/frugal-object-store/segsync/synchronizer"
)

// Error is the service package's error class.
var Error = errs.Class("service")

// Node is anything a Service can snapshot, wait on, and exit: in practice
// this is satisfied by the local consensus/state-machine node that owns a
// Synchronizer, not the Synchronizer itself.
type Node interface {
	// TakeSnapshot asks the node to persist its current state, so the
	// eventual Exit loses as little log suffix as possible.
	TakeSnapshot(ctx context.Context)
	// Stop asks the node to enter its stopping state and take a snapshot;
	// done is closed once that snapshot has completed.
	Stop(ctx context.Context, done chan<- struct{})
	// Exit immediately and unconditionally finalizes the node.
	Exit(ctx context.Context)
}

// NodeHandle is what AddNode registers: the Node lifecycle hooks plus the
// Synchronizer instance Run()ing against this node's segment.
type NodeHandle struct {
	ID   event.NodeID
	Node Node
	Sync *synchronizer.Synchronizer

	cancel context.CancelFunc
}

// registry is the copy-on-write map of currently active nodes.
type registry map[event.NodeID]*NodeHandle

// Service owns the node registry for this process and the repair
// concurrency permit shared by every node's RepairQueueExecutor.
type Service struct {
	log *zap.Logger

	mu      sync.Mutex
	current registry
	stopped bool

	permits chan struct{}
}

// New constructs a Service allowing at most maxConcurrentRepairs repair
// tasks to run at once across every node it hosts.
func New(log *zap.Logger, maxConcurrentRepairs int) *Service {
	return &Service{
		log:     log,
		current: make(registry),
		permits: make(chan struct{}, maxConcurrentRepairs),
	}
}

// AcquireRepairLock implements queue.RepairLockAcquirer: it never blocks,
// matching the Rust source's service_handle.acquire_repair_lock()
// returning Option<RepairLock> rather than awaiting one.
func (s *Service) AcquireRepairLock() (queue.RepairLock, bool) {
	select {
	case s.permits <- struct{}{}:
		return &repairLock{permits: s.permits}, true
	default:
		return nil, false
	}
}

type repairLock struct {
	permits chan struct{}
	once    sync.Once
}

// Release implements queue.RepairLock.
func (l *repairLock) Release() {
	l.once.Do(func() { <-l.permits })
}

// AddNode registers a node and starts its Synchronizer. Adds are ignored
// once shutdown has begun, matching the Rust source's do_stop guard.
func (s *Service) AddNode(ctx context.Context, h *NodeHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.log.Warn("ignored add node after shutdown began", zap.Stringer("node", h.ID))
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	next := make(registry, len(s.current)+1)
	for k, v := range s.current {
		next[k] = v
	}
	next[h.ID] = h
	s.current = next

	if h.Sync != nil {
		go func() {
			if err := h.Sync.Run(runCtx); err != nil {
				s.log.Warn("synchronizer exited with error", zap.Stringer("node", h.ID), zap.Error(err))
			}
		}()
	}
	s.log.Info("added node", zap.Stringer("node", h.ID))
}

// RemoveNode unregisters a node immediately, without snapshotting it.
func (s *Service) RemoveNode(id event.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(registry, len(s.current))
	for k, v := range s.current {
		if k != id {
			next[k] = v
		}
	}
	if h, ok := s.current[id]; ok && h.cancel != nil {
		h.cancel()
	}
	s.current = next
	s.log.Info("removed node", zap.Stringer("node", id))
}

// GetNode returns the currently registered handle for id, grounded on
// ServiceHandle::get_node's single map lookup in the Rust source.
func (s *Service) GetNode(id event.NodeID) (*NodeHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.current[id]
	return h, ok
}

// IsStopping reports whether shutdown has begun; AddNode rejects further
// registrations once this is true.
func (s *Service) IsStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// StopNode snapshots, stops, and exits a single node, then removes it from
// the registry, without affecting any sibling node. Unlike Stop, this does
// not set s.stopped and does not prevent further AddNode calls.
func (s *Service) StopNode(ctx context.Context, id event.NodeID) error {
	s.mu.Lock()
	h, ok := s.current[id]
	s.mu.Unlock()
	if !ok {
		return Error.New("node not registered: %v", id)
	}

	done := make(chan struct{})
	s.log.Info("sending stop request", zap.Stringer("node", id))
	h.Node.Stop(ctx, done)
	<-done

	s.log.Info("sending exit request", zap.Stringer("node", id))
	h.Node.Exit(ctx)
	s.RemoveNode(id)
	return nil
}

// snapshot returns every currently registered node.
func (s *Service) snapshot() []*NodeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*NodeHandle, 0, len(s.current))
	for _, h := range s.current {
		out = append(out, h)
	}
	return out
}

// TakeSnapshot asks every node to persist state without stopping them.
func (s *Service) TakeSnapshot(ctx context.Context) {
	for _, h := range s.snapshot() {
		s.log.Info("sending snapshot request", zap.Stringer("node", h.ID))
		h.Node.TakeSnapshot(ctx)
	}
}

// Stop runs the two-phase shutdown: every node snapshots first, and only
// once every snapshot has completed (or the node has reported in) does
// any node actually exit. This minimizes the window in which clients can
// observe a "node not found" error, the same tradeoff documented in the
// Rust source's stop() doc comment.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	nodes := s.snapshot()
	if len(nodes) == 0 {
		return
	}

	var group errgroup.Group
	for _, h := range nodes {
		h := h
		group.Go(func() error {
			done := make(chan struct{})
			s.log.Info("sending stop request", zap.Stringer("node", h.ID))
			h.Node.Stop(ctx, done)
			<-done
			return nil
		})
	}
	_ = group.Wait()

	for _, h := range nodes {
		s.log.Info("sending exit request", zap.Stringer("node", h.ID))
		h.Node.Exit(ctx)
		if h.cancel != nil {
			h.cancel()
		}
	}

	s.mu.Lock()
	s.current = make(registry)
	s.mu.Unlock()
}
