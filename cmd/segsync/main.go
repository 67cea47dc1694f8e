// Copyright (C) 2023 Frugal Object Store, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/frugal-object-store/segsync/device"
	"github.com/frugal-object-store/segsync/event"
	"github.com/frugal-object-store/segsync/metrics"
	"github.com/frugal-object-store/segsync/queue"
	"github.com/frugal-object-store/segsync/service"
	"github.com/frugal-object-store/segsync/storageclient"
	"github.com/frugal-object-store/segsync/synchronizer"
)

// Error is the CLI's error class.
var Error = errs.Class("segsync")

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	root := &cobra.Command{
		Use:   "segsync",
		Short: "run a single segment synchronizer node against an in-memory device",
	}
	root.AddCommand(runCommand(log))

	if err := root.Execute(); err != nil {
		log.Fatal("exiting with error", zap.Error(err))
	}
}

// runCommand wires together an in-memory device, a replicated reference
// storage client, and a single Synchronizer node, driving it until
// interrupted. It exists to exercise the public API end-to-end; it is not
// a production deployment entrypoint (there is no RPC server, and the
// event source is a synthetic demo feed rather than the real consensus
// state machine).
func runCommand(log *zap.Logger) *cobra.Command {
	var segment uint64
	var replica uint32
	var maxConcurrentRepairs int
	var repairIdleness time.Duration
	var demoEvents int
	var putContentTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a synchronizer node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			node := event.NodeID{Segment: segment, Replica: replica}
			dev := device.NewMemory()
			client := storageclient.NewReplicated(3)
			metric := metrics.NewRegistry(prometheus.DefaultRegisterer, node.String(), nil)

			svc := service.New(log.Named("service"), maxConcurrentRepairs)
			sync := synchronizer.New(log.Named("synchronizer"), node, dev, client, metric, svc)
			if repairIdleness > 0 {
				sync.SetRepairIdlenessThreshold(queue.RepairIdlenessThreshold(repairIdleness))
			}

			svc.AddNode(ctx, &service.NodeHandle{ID: node, Node: noopNode{}, Sync: sync})

			go feedDemoEvents(sync, demoEvents, putContentTimeout)

			log.Info("synchronizer running", zap.Stringer("node", node))
			<-ctx.Done()
			log.Info("shutting down")
			svc.Stop(context.Background())
			return nil
		},
	}

	flag := cmd.Flags()
	flag.Uint64Var(&segment, "segment", 0, "segment identifier for this node")
	flag.Uint32Var(&replica, "replica", 0, "replica index for this node")
	flag.IntVar(&maxConcurrentRepairs, "max-concurrent-repairs", 4, "process-wide repair concurrency limit")
	flag.DurationVar(&repairIdleness, "repair-idleness", 0, "minimum time this node's repair executor must sit idle before it admits a new repair (0 leaves repairs disabled entirely)")
	flag.IntVar(&demoEvents, "demo-events", 0, "number of synthetic Putted events to generate for local experimentation")
	flag.DurationVar(&putContentTimeout, "put-content-timeout", 2*time.Second, "put_content_timeout applied to synthetic demo events")

	return cmd
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}

// feedDemoEvents pushes count synthetic Putted events into sync, spaced out
// so the repair-prep wait timer and the idleness gate both have something
// to observe. It is a stand-in for the real consensus event stream.
func feedDemoEvents(sync *synchronizer.Synchronizer, count int, timeout time.Duration) {
	for i := 0; i < count; i++ {
		sync.HandleEvent(event.PuttedEvent(event.ObjectVersion(i+1), timeout))
		time.Sleep(200 * time.Millisecond)
	}
}

// noopNode is a placeholder service.Node for the demo CLI, which has no
// real consensus-state-machine node to snapshot or exit.
type noopNode struct{}

func (noopNode) TakeSnapshot(ctx context.Context) {}
func (noopNode) Stop(ctx context.Context, done chan<- struct{}) { close(done) }
func (noopNode) Exit(ctx context.Context) {}
