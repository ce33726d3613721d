package broker

import (
	"context"
	"sync"

	"github.com/noetl/noetl/common/logger"
)

// Dispatcher turns events and completions into broker evaluation work
// without ever running two evaluations for the same execution
// concurrently (spec.md §9's "Coroutine fan-out for broker evaluation"
// redesign flag). The original schedules one async task per event;
// replaying that literally against a single Postgres-backed Broker would
// mean redundant re-evaluations piling up for a hot execution, so
// Trigger coalesces: a trigger that arrives while an execution is already
// being evaluated is folded into one more pass run immediately after the
// current one finishes, rather than queued. Concurrency across distinct
// executions is bounded by a semaphore sized from
// config.BrokerConfig.InFlightCapacity. Correctness never depends on this
// — calling EvaluateForExecution directly, once per event, is equally
// correct because enqueue and event append are themselves idempotent;
// this only avoids doing the same idempotent work twice under load.
type Dispatcher struct {
	broker *Broker
	log    *logger.Logger
	sem    chan struct{}

	mu    sync.Mutex
	state map[int64]dispatchState
}

type dispatchState int

const (
	stateRunning dispatchState = iota + 1
	stateRunningWithPending
)

// NewDispatcher builds a Dispatcher bounding concurrent evaluations to
// capacity distinct executions at a time.
func NewDispatcher(b *Broker, log *logger.Logger, capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = 1
	}
	return &Dispatcher{
		broker: b,
		log:    log,
		sem:    make(chan struct{}, capacity),
		state:  make(map[int64]dispatchState),
	}
}

// Trigger schedules an evaluation pass for executionID. If one is already
// running, the running pass is marked to re-run once more on completion
// instead of starting a second goroutine for the same execution.
func (d *Dispatcher) Trigger(executionID int64) {
	d.mu.Lock()
	switch d.state[executionID] {
	case stateRunning, stateRunningWithPending:
		d.state[executionID] = stateRunningWithPending
		d.mu.Unlock()
		return
	default:
		d.state[executionID] = stateRunning
	}
	d.mu.Unlock()

	go d.run(executionID)
}

func (d *Dispatcher) run(executionID int64) {
	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	for {
		if err := d.broker.EvaluateForExecution(context.Background(), executionID); err != nil {
			d.log.Error("dispatcher: evaluation failed", "execution_id", executionID, "error", err)
		}

		d.mu.Lock()
		if d.state[executionID] == stateRunningWithPending {
			d.state[executionID] = stateRunning
			d.mu.Unlock()
			continue
		}
		delete(d.state, executionID)
		d.mu.Unlock()
		return
	}
}
