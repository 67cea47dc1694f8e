// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package synchronizer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/frugal-object-store/segsync/device"
	"github.com/frugal-object-store/segsync/event"
	"github.com/frugal-object-store/segsync/queue"
	"github.com/frugal-object-store/segsync/storageclient"
	"github.com/frugal-object-store/segsync/synchronizer"
)

type grantAllLocker struct{}

func (grantAllLocker) AcquireRepairLock() (queue.RepairLock, bool) { return noopLock{}, true }

type noopLock struct{}

func (noopLock) Release() {}

func TestSynchronizerEndToEndRepairsPuttedVersion(t *testing.T) {
	log := zaptest.NewLogger(t)
	node := event.NodeID{Segment: 1, Replica: 0}
	dev := device.NewMemory()
	client := storageclient.NewReplicated(2)
	require.NoError(t, client.Put(context.Background(), 42, []byte("segment bytes")))

	sync := synchronizer.New(log, node, dev, client, nil, grantAllLocker{})
	// repairs are never admitted under the default RepairIdlenessDisabled;
	// a zero threshold admits immediately without gating on activity.
	sync.SetRepairIdlenessThreshold(queue.RepairIdlenessThreshold(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sync.Run(ctx) }()

	sync.HandleEvent(event.PuttedEvent(42, 0))

	id := event.PayloadLumpID(node, 42)
	require.Eventually(t, func() bool {
		ok, err := dev.Head(context.Background(), id)
		require.NoError(t, err)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSynchronizerIgnoresEventsOnMetadataOnlySegment(t *testing.T) {
	log := zaptest.NewLogger(t)
	node := event.NodeID{}
	dev := device.NewMemory()
	client := metadataOnlyClient{}

	sync := synchronizer.New(log, node, dev, client, nil, grantAllLocker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sync.Run(ctx) }()

	sync.HandleEvent(event.PuttedEvent(1, 0))

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 0, dev.Len())
}

type metadataOnlyClient struct{}

func (metadataOnlyClient) Get(ctx context.Context, version event.ObjectVersion) ([]byte, error) {
	return nil, nil
}
func (metadataOnlyClient) Put(ctx context.Context, version event.ObjectVersion, data []byte) error {
	return nil
}
func (metadataOnlyClient) IsMetadata() bool { return true }
