// Package container assembles the Server API's dependency graph once at
// startup, the way cmd/orchestrator/container/container.go builds its
// Container bottom-up from bootstrap.Components before any route is
// registered.
package container

import (
	"fmt"
	"hash/fnv"

	"github.com/noetl/noetl/common/bootstrap"
	"github.com/noetl/noetl/common/broker"
	"github.com/noetl/noetl/common/catalog"
	"github.com/noetl/noetl/common/condition"
	nctx "github.com/noetl/noetl/common/context"
	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/handlers"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/queue"
	"github.com/noetl/noetl/common/runtime"
)

// Container holds every initialized component and handler the Server API
// needs, constructed once and handed to common/routes.
type Container struct {
	Components *bootstrap.Components

	Catalog   catalog.Client
	Events    eventlog.EventLog
	Queue     queue.Queue
	Workloads nctx.WorkloadStore
	Context   *nctx.Service
	Broker    *broker.Broker
	Runtime   runtime.Registry
	IDs       *ids.Generator

	CatalogHandler   *handlers.CatalogHandler
	ExecutionHandler *handlers.ExecutionHandler
	EventHandler     *handlers.EventHandler
	QueueHandler     *handlers.QueueHandler
	RuntimeHandler   *handlers.RuntimeHandler
	ContextHandler   *handlers.ContextHandler
}

// New wires the Container's dependencies bottom-up: components first, then
// domain components, then the Broker that ties event log, queue, context
// and catalog together, then the HTTP handlers on top.
func New(components *bootstrap.Components) (*Container, error) {
	shard, err := shardFor(components.Config.Service.Name)
	if err != nil {
		return nil, fmt.Errorf("derive id shard: %w", err)
	}
	idGen, err := ids.NewGenerator(shard)
	if err != nil {
		return nil, fmt.Errorf("create id generator: %w", err)
	}

	events := eventlog.NewPostgresEventLog(components.DB)
	q := queue.NewPostgresQueue(components.DB)
	catalogClient := catalog.NewPostgresCatalog(components.DB)
	workloads := nctx.NewPostgresWorkloadStore(components.DB)
	ctxSvc := nctx.NewService(events, workloads, catalogClient)
	evaluator := condition.NewEvaluator()
	runtimeRegistry := runtime.NewStore(components.DB, components.Logger)

	b := broker.New(events, q, ctxSvc, evaluator, catalogClient, idGen, components.Logger)

	return &Container{
		Components: components,

		Catalog:   catalogClient,
		Events:    events,
		Queue:     q,
		Workloads: workloads,
		Context:   ctxSvc,
		Broker:    b,
		Runtime:   runtimeRegistry,
		IDs:       idGen,

		CatalogHandler:   handlers.NewCatalogHandler(catalogClient, components.Logger),
		ExecutionHandler: handlers.NewExecutionHandler(catalogClient, events, workloads, b, idGen, components.Logger),
		EventHandler:     handlers.NewEventHandler(events, idGen, components.Logger),
		QueueHandler:     handlers.NewQueueHandler(q, components.Logger),
		RuntimeHandler:   handlers.NewRuntimeHandler(runtimeRegistry, components.Logger),
		ContextHandler:   handlers.NewContextHandler(ctxSvc, components.Logger),
	}, nil
}

// shardFor derives a stable Snowflake shard id (0..1023) from a service
// name, so two processes named differently never collide on the same
// id-generation shard without needing an external coordinator.
func shardFor(name string) (int64, error) {
	h := fnv.New32a()
	if _, err := h.Write([]byte(name)); err != nil {
		return 0, err
	}
	return int64(h.Sum32() % 1024), nil
}
