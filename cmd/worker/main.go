package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/noetl/noetl/common/bootstrap"
	"github.com/noetl/noetl/common/broker"
	"github.com/noetl/noetl/common/catalog"
	"github.com/noetl/noetl/common/condition"
	nctx "github.com/noetl/noetl/common/context"
	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/models"
	"github.com/noetl/noetl/common/queue"
	"github.com/noetl/noetl/common/runtime"
	"github.com/noetl/noetl/common/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	components.Logger.Info("worker starting", "pool", components.Config.Worker.PoolName)

	idGen, err := ids.NewGenerator(1)
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

	pool := worker.New(q, events, b, idGen, components.Logger,
		worker.WithLeaseSeconds(components.Config.Worker.LeaseSeconds),
		worker.WithPollInterval(components.Config.Worker.PollInterval),
	)

	registry := runtime.NewStore(components.DB, components.Logger)
	if _, err := registry.Register(ctx, runtime.RegisterRequest{
		ComponentType: models.ComponentWorkerPool,
		Name:          components.Config.Worker.PoolName,
	}); err != nil {
		components.Logger.Error("failed to register worker pool", "error", err)
	}
	defer func() {
		if err := registry.Deregister(context.Background(), models.ComponentWorkerPool, components.Config.Worker.PoolName); err != nil {
			components.Logger.Error("failed to deregister worker pool", "error", err)
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		components.Logger.Info("worker pool running")
		if err := pool.Run(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("worker pool error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		components.Logger.Error("worker pool failed", "error", err)
		os.Exit(1)
	case sig := <-sigChan:
		components.Logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}

	components.Logger.Info("worker shutting down gracefully")
}
