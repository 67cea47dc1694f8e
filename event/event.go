// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

// Package event defines the wire-independent types emitted by the local
// consensus state machine when it commits metadata mutations: Putted,
// Deleted, and FullSync. The synchronizer consumes a stream of these in
// commit order.
package event

import (
	"fmt"
	"time"
)

// ObjectVersion is the monotonically increasing version assigned by the
// consensus state machine at commit time. Repair ordering and GC identity
// are defined on this value.
type ObjectVersion uint64

// LogIndex is the position of a FullSync event in the consensus log.
type LogIndex uint64

// NodeID identifies a replica on this host and carries its on-device key
// prefix.
type NodeID struct {
	Segment uint64
	Replica uint32
}

// String implements fmt.Stringer.
func (id NodeID) String() string {
	return fmt.Sprintf("%d/%d", id.Segment, id.Replica)
}

// LumpKind distinguishes metadata/log fragments from payload fragments
// inside a LumpId. The core only deletes/heads lumps of KindPayload.
type LumpKind byte

// Lump kinds, matching the on-disk prefix byte. These must never change:
// they are part of the on-disk compatibility contract.
const (
	KindMetadata LumpKind = 0x00
	KindPayload  LumpKind = 0x01
)

// LumpID is the device-level address of a fragment: node, kind and
// version. It is not packed into 128 bits; device.File encodes it as 21
// bytes (kind ‖ version ‖ segment ‖ replica).
type LumpID struct {
	Node    NodeID
	Kind    LumpKind
	Version ObjectVersion
}

// PayloadLumpID builds the LumpId for the payload fragment of version on
// node.
func PayloadLumpID(node NodeID, version ObjectVersion) LumpID {
	return LumpID{Node: node, Kind: KindPayload, Version: version}
}

// StateMachineSnapshot is an opaque point-in-time view of the per-segment
// identifier-to-version map, as seen by SegmentGc. The synchronizer core
// only needs to ask it "is this version present".
type StateMachineSnapshot interface {
	// HasVersion reports whether any key in the snapshot maps to version.
	HasVersion(version ObjectVersion) bool
}

// Event is the tagged variant emitted by the metadata state machine. Exactly
// one of Putted, Deleted, or FullSync is non-nil.
type Event struct {
	Putted  *Putted
	Deleted *Deleted
	Full    *FullSync
}

// Putted is emitted when the state machine commits a new object version.
type Putted struct {
	Version ObjectVersion
	// PutContentTimeout is how long the synchronizer should wait before
	// attempting repair, to avoid racing the in-flight storage.Put that
	// produced this version.
	PutContentTimeout time.Duration
}

// Deleted is emitted when the state machine commits a tombstone for Version.
type Deleted struct {
	Version ObjectVersion
}

// FullSync is emitted to trigger a reconciliation sweep of the local
// device against the snapshotted state machine.
type FullSync struct {
	Machine    StateMachineSnapshot
	NextCommit LogIndex
}

// PuttedEvent builds an Event wrapping a Putted.
func PuttedEvent(version ObjectVersion, timeout time.Duration) Event {
	return Event{Putted: &Putted{Version: version, PutContentTimeout: timeout}}
}

// DeletedEvent builds an Event wrapping a Deleted.
func DeletedEvent(version ObjectVersion) Event {
	return Event{Deleted: &Deleted{Version: version}}
}

// FullSyncEvent builds an Event wrapping a FullSync.
func FullSyncEvent(machine StateMachineSnapshot, nextCommit LogIndex) Event {
	return Event{Full: &FullSync{Machine: machine, NextCommit: nextCommit}}
}
