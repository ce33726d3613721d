package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noetl/noetl/common/bootstrap"
	"github.com/noetl/noetl/common/broker"
	"github.com/noetl/noetl/common/catalog"
	"github.com/noetl/noetl/common/condition"
	nctx "github.com/noetl/noetl/common/context"
	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/models"
	"github.com/noetl/noetl/common/queue"
	"github.com/noetl/noetl/common/runtime"
)

// The broker binary is the standalone backstop sweeper spec.md §9 describes
// as "eventually consistent within seconds": it periodically reaps expired
// leases and re-triggers evaluation for every execution that has not yet
// reached a terminal event, through the in-process Dispatcher
// (common/broker/dispatcher.go) so a slow execution's repeated sweeps never
// pile up concurrent evaluations for the same id. Correctness does not
// depend on this process running — cmd/server's execution-start handler and
// cmd/worker's completion and terminal-failure paths already call
// EvaluateForExecution inline — this is purely
// the fallback path for triggers a push-based signal never reaches (§9(b)'s
// Redis-is-an-optimization note applies symmetrically to any other
// push channel).
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "broker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	components.Logger.Info("broker starting")

	idGen, err := ids.NewGenerator(2)
	if err != nil {
		components.Logger.Error("failed to create id generator", "error", err)
		os.Exit(1)
	}

	events := eventlog.NewPostgresEventLog(components.DB)
	q := queue.NewPostgresQueue(components.DB)
	catalogClient := catalog.NewPostgresCatalog(components.DB)
	workloads := nctx.NewPostgresWorkloadStore(components.DB)
	ctxSvc := nctx.NewService(events, workloads, catalogClient)
	evaluator := condition.NewEvaluator()
	b := broker.New(events, q, ctxSvc, evaluator, catalogClient, idGen, components.Logger)
	dispatcher := broker.NewDispatcher(b, components.Logger, components.Config.Broker.InFlightCapacity)

	registry := runtime.NewStore(components.DB, components.Logger)
	if _, err := registry.Register(ctx, runtime.RegisterRequest{
		ComponentType: models.ComponentBroker,
		Name:          components.Config.Runtime.ServerName,
	}); err != nil {
		components.Logger.Error("failed to register broker", "error", err)
	}
	defer func() {
		if err := registry.Deregister(context.Background(), models.ComponentBroker, components.Config.Runtime.ServerName); err != nil {
			components.Logger.Error("failed to deregister broker", "error", err)
		}
	}()

	ticker := time.NewTicker(components.Config.Broker.SweepInterval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	components.Logger.Info("broker sweep loop running", "interval", components.Config.Broker.SweepInterval)

sweepLoop:
	for {
		select {
		case <-ticker.C:
			sweep(ctx, q, events, dispatcher, components.Logger)
		case sig := <-sigChan:
			components.Logger.Info("received shutdown signal", "signal", sig)
			cancel()
			break sweepLoop
		case <-ctx.Done():
			break sweepLoop
		}
	}

	components.Logger.Info("broker shutting down gracefully")
}

func sweep(ctx context.Context, q queue.Queue, events eventlog.EventLog, dispatcher *broker.Dispatcher, log *logger.Logger) {
	reclaimed, err := q.ReapExpired(ctx)
	if err != nil {
		log.Error("broker sweep: reap expired failed", "error", err)
	} else if reclaimed > 0 {
		log.Info("broker sweep: reclaimed expired leases", "count", reclaimed)
	}

	active, err := events.ListActiveExecutionIDs(ctx)
	if err != nil {
		log.Error("broker sweep: list active executions failed", "error", err)
		return
	}
	for _, executionID := range active {
		dispatcher.Trigger(executionID)
	}
}
