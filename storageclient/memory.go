// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package storageclient

import (
	"context"
	"sync"

	"github.com/vivint/infectious"

	"github.com/frugal-object-store/segsync/event"
)

// Replicated is a reference Client for replicated (n full-copy) segments,
// backed by an in-memory set of peer byte stores. It is used by tests and
// the CLI demo in place of the real RPC fan-out.
type Replicated struct {
	mu    sync.Mutex
	peers []map[event.ObjectVersion][]byte
}

// NewReplicated returns a Replicated client with the given number of peer
// copies.
func NewReplicated(copies int) *Replicated {
	r := &Replicated{}
	for i := 0; i < copies; i++ {
		r.peers = append(r.peers, make(map[event.ObjectVersion][]byte))
	}
	return r
}

// Get implements Client.
func (r *Replicated) Get(ctx context.Context, version event.ObjectVersion) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, peer := range r.peers {
		if data, ok := peer[version]; ok {
			cp := make([]byte, len(data))
			copy(cp, data)
			return cp, nil
		}
	}
	return nil, Error.New("version %d not found on any peer", version)
}

// Put implements Client.
func (r *Replicated) Put(ctx context.Context, version event.ObjectVersion, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, peer := range r.peers {
		cp := make([]byte, len(data))
		copy(cp, data)
		peer[version] = cp
	}
	return nil
}

// IsMetadata implements Client.
func (r *Replicated) IsMetadata() bool { return false }

// Dispersed is a reference Client for erasure-coded segments, grounded on
// the same github.com/vivint/infectious Reed-Solomon library used for
// repair reconstruction in storj.io/storj/satellite/repair/repairer/ec.go.
// Unlike the real system it keeps every share in memory rather than
// fanning a download out over RPC, which is outside this module's scope.
type Dispersed struct {
	required int
	total    int
	fec      *infectious.FEC

	mu      sync.Mutex
	shares  map[event.ObjectVersion][]infectious.Share
	lengths map[event.ObjectVersion]int
}

// NewDispersed returns a Dispersed client requiring `required` of `total`
// shares to reconstruct.
func NewDispersed(required, total int) (*Dispersed, error) {
	fec, err := infectious.NewFEC(required, total)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Dispersed{
		required: required,
		total:    total,
		fec:      fec,
		shares:   make(map[event.ObjectVersion][]infectious.Share),
		lengths:  make(map[event.ObjectVersion]int),
	}, nil
}

// Put implements Client: it erasure-encodes data into d.total shares. Raw
// infectious.FEC.Encode requires its input length to be a multiple of
// required, so data is zero-padded first; the original length is recorded
// to trim that padding back off on Get.
func (d *Dispersed) Put(ctx context.Context, version event.ObjectVersion, data []byte) error {
	padded := data
	if rem := len(data) % d.required; rem != 0 {
		padded = make([]byte, len(data)+d.required-rem)
		copy(padded, data)
	}

	var shares []infectious.Share
	err := d.fec.Encode(padded, func(s infectious.Share) {
		shares = append(shares, s.DeepCopy())
	})
	if err != nil {
		return Error.Wrap(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shares[version] = shares
	d.lengths[version] = len(data)
	return nil
}

// Get implements Client: it decodes from whichever required shares are
// still present (simulating missing shares by omission).
func (d *Dispersed) Get(ctx context.Context, version event.ObjectVersion) ([]byte, error) {
	d.mu.Lock()
	shares := d.shares[version]
	length, known := d.lengths[version]
	d.mu.Unlock()
	if !known || len(shares) < d.required {
		return nil, Error.New("not enough surviving shares for version %d: have %d need %d", version, len(shares), d.required)
	}

	decoded, err := d.fec.Decode(nil, shares)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return decoded[:length], nil
}

// IsMetadata implements Client.
func (d *Dispersed) IsMetadata() bool { return false }

// DropShares removes shares belonging to nodes (by index) for version,
// simulating lost fragments so tests can exercise repair reconstruction.
func (d *Dispersed) DropShares(version event.ObjectVersion, indices ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	shares := d.shares[version]
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}
	kept := shares[:0]
	for _, s := range shares {
		if !drop[s.Number] {
			kept = append(kept, s)
		}
	}
	d.shares[version] = kept
}
