// Package worker implements the execution side of the queue protocol: a
// pool of goroutines that lease queued jobs, dispatch them to a plugin by
// action type, extend the lease while the plugin runs, and report the
// outcome back as events before asking the broker to advance the
// execution — grounded on the teacher's
// cmd/workflow-runner/worker/http_worker.go poll/handle/ack loop, adapted
// from a single Redis consumer-group stream to a Postgres lease queue that
// can host several action backends instead of one.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noetl/noetl/common/broker"
	"github.com/noetl/noetl/common/eventlog"
	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/models"
	"github.com/noetl/noetl/common/queue"
	"github.com/noetl/noetl/common/worker/plugins"
)

// Pool leases jobs from a queue.Queue, executes them against a registry of
// plugins keyed by action type, and reports completion/failure back
// through the event log so the broker can re-evaluate the execution.
type Pool struct {
	id      string
	queue   queue.Queue
	events  eventlog.EventLog
	broker  *broker.Broker
	ids     *ids.Generator
	log     *logger.Logger
	plugins map[string]plugins.Plugin

	leaseSeconds int
	pollInterval time.Duration
	maxBackoff   time.Duration
	concurrency  int
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithConcurrency sets how many lease-poll goroutines the pool runs. The
// default is 1.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPlugin registers or overrides the plugin used for a given action
// type.
func WithPlugin(actionType string, plugin plugins.Plugin) Option {
	return func(p *Pool) {
		p.plugins[actionType] = plugin
	}
}

// WithLeaseSeconds overrides the default lease duration requested on each
// poll.
func WithLeaseSeconds(seconds int) Option {
	return func(p *Pool) {
		if seconds > 0 {
			p.leaseSeconds = seconds
		}
	}
}

// WithPollInterval overrides the idle-poll delay between empty leases.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// New builds a worker Pool identified by a random worker id, wired to the
// given queue, event log, broker and id generator, with the built-in
// plugins (http, postgres, python, noop, end) pre-registered.
func New(q queue.Queue, events eventlog.EventLog, b *broker.Broker, idGen *ids.Generator, log *logger.Logger, opts ...Option) *Pool {
	p := &Pool{
		id:           uuid.NewString(),
		queue:        q,
		events:       events,
		broker:       b,
		ids:          idGen,
		log:          log,
		plugins:      make(map[string]plugins.Plugin),
		leaseSeconds: 30,
		pollInterval: time.Second,
		maxBackoff:   30 * time.Second,
		concurrency:  1,
	}

	p.plugins["http"] = plugins.NewHTTP()
	p.plugins["postgres"] = plugins.NewPostgres()
	p.plugins["python"] = plugins.NewPython()
	p.plugins["noop"] = plugins.NewPassthrough()
	p.plugins["end"] = plugins.NewPassthrough()

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the pool's lease loops and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		go func() {
			defer wg.Done()
			p.loop(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// loop repeatedly leases and executes jobs, backing off when the queue is
// idle.
func (p *Pool) loop(ctx context.Context) {
	backoff := p.pollInterval
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Lease(ctx, p.id, p.leaseSeconds)
		if err != nil {
			p.log.Error("worker: lease failed", "worker_id", p.id, "error", err)
			p.sleep(ctx, backoff)
			backoff = p.nextBackoff(backoff)
			continue
		}
		if job == nil {
			p.sleep(ctx, backoff)
			backoff = p.nextBackoff(backoff)
			continue
		}
		backoff = p.pollInterval

		p.execute(ctx, job)
	}
}

func (p *Pool) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > p.maxBackoff {
		return p.maxBackoff
	}
	return next
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// execute dispatches a leased job to its plugin, keeping the lease alive
// for the duration of the call, then reports completion or failure.
func (p *Pool) execute(ctx context.Context, job *models.QueueJob) {
	nodeName := p.nodeNameFor(job)
	startedAt := time.Now()

	p.emitEvent(ctx, job, models.EventActionStarted, models.StatusInProgress, nodeName, nil, "", nil)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		p.heartbeatLoop(heartbeatCtx, int64(job.QueueID), job.WorkerID)
	}()

	result, execErr := p.dispatch(ctx, job)

	cancelHeartbeat()
	hbWG.Wait()

	if execErr != nil {
		p.fail(ctx, job, execErr.Error(), "", startedAt)
		return
	}
	if result.Status == "failed" {
		p.fail(ctx, job, result.Error, result.Traceback, startedAt)
		return
	}
	p.complete(ctx, job, result, startedAt)
}

// dispatch parses the job's action envelope and routes it to the
// registered plugin for its type.
func (p *Pool) dispatch(ctx context.Context, job *models.QueueJob) (plugins.Result, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(job.Action, &envelope); err != nil {
		return plugins.Result{}, fmt.Errorf("worker: parse action envelope: %w", err)
	}
	if envelope.Type == "" {
		return plugins.Result{}, fmt.Errorf("worker: action missing type")
	}

	plugin, ok := p.plugins[envelope.Type]
	if !ok {
		return plugins.Result{}, fmt.Errorf("worker: no plugin registered for action type %q", envelope.Type)
	}
	return plugin.Execute(ctx, job.Action)
}

// heartbeatLoop extends the job's lease at half the lease duration until
// ctx is cancelled or the worker no longer owns the lease.
func (p *Pool) heartbeatLoop(ctx context.Context, queueID int64, workerID string) {
	interval := time.Duration(p.leaseSeconds) * time.Second / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(ctx, queueID, workerID, p.leaseSeconds); err != nil {
				if err == queue.ErrWorkerMismatch {
					return
				}
				p.log.Warn("worker: heartbeat failed", "queue_id", queueID, "error", err)
			}
		}
	}
}

// complete marks the job done, emits action_completed, and re-evaluates
// the owning execution so the broker can advance the workflow.
func (p *Pool) complete(ctx context.Context, job *models.QueueJob, result plugins.Result, startedAt time.Time) {
	nodeName := p.nodeNameFor(job)
	if _, err := p.queue.Complete(ctx, int64(job.QueueID), job.WorkerID); err != nil {
		if err == queue.ErrWorkerMismatch || err == queue.ErrNotFound {
			p.log.Warn("worker: lost lease before completion, discarding result", "queue_id", job.QueueID)
			return
		}
		p.log.Error("worker: complete failed", "queue_id", job.QueueID, "error", err)
		return
	}

	resultJSON, err := json.Marshal(result.Data)
	if err != nil {
		resultJSON = json.RawMessage("null")
	}

	duration := time.Since(startedAt).Milliseconds()
	p.emitEvent(ctx, job, models.EventActionCompleted, models.StatusCompleted, nodeName, resultJSON, "", &duration)

	if err := p.broker.EvaluateForExecution(ctx, int64(job.ExecutionID)); err != nil {
		p.log.Error("worker: broker evaluation failed after completion", "execution_id", job.ExecutionID, "error", err)
	}
}

// fail records a failed attempt, retrying the job through the queue's own
// backoff if attempts remain, and only re-evaluates the broker once the
// job has been given up as dead.
func (p *Pool) fail(ctx context.Context, job *models.QueueJob, cause, traceback string, startedAt time.Time) {
	nodeName := p.nodeNameFor(job)
	willRetry := job.Attempts < job.MaxAttempts

	if err := p.queue.Fail(ctx, int64(job.QueueID), job.WorkerID, willRetry, retryDelay(job.Attempts+1)); err != nil {
		p.log.Error("worker: fail failed", "queue_id", job.QueueID, "error", err)
	}

	duration := time.Since(startedAt).Milliseconds()
	evt := &models.Event{
		ExecutionID: job.ExecutionID,
		EventID:     p.ids.Next(),
		EventType:   models.EventActionFailed,
		NodeID:      job.NodeID,
		NodeName:    nodeName,
		Status:      models.StatusFailed,
		Context:     job.Context,
		Error:       cause,
		StackTrace:  traceback,
		DurationMS:  &duration,
	}
	if err := p.events.Append(ctx, evt); err != nil {
		p.log.Error("worker: append event failed", "execution_id", job.ExecutionID, "event_type", evt.EventType, "error", err)
	}

	if willRetry {
		return
	}
	if err := p.broker.EvaluateForExecution(ctx, int64(job.ExecutionID)); err != nil {
		p.log.Error("worker: broker evaluation failed after terminal failure", "execution_id", job.ExecutionID, "error", err)
	}
}

// emitEvent appends an event for the job's execution, tagging it with the
// node name recovered from the job's context envelope.
func (p *Pool) emitEvent(ctx context.Context, job *models.QueueJob, eventType models.EventType, status models.EventStatus, nodeName string, result json.RawMessage, errMsg string, durationMS *int64) {
	evt := &models.Event{
		ExecutionID: job.ExecutionID,
		EventID:     p.ids.Next(),
		EventType:   eventType,
		NodeID:      job.NodeID,
		NodeName:    nodeName,
		Status:      status,
		Context:     job.Context,
		Result:      result,
		Error:       errMsg,
		DurationMS:  durationMS,
	}
	if err := p.events.Append(ctx, evt); err != nil {
		p.log.Error("worker: append event failed", "execution_id", job.ExecutionID, "event_type", eventType, "error", err)
	}
}

// nodeNameFor recovers the step name a job's completion event should
// report. The broker stamps every enqueued job's Context with a node_name
// field precisely because NodeID alone (execution_id + step name, and for
// loop iterations an index suffix) is not safe for the worker to
// re-derive on its own.
func (p *Pool) nodeNameFor(job *models.QueueJob) string {
	var ctxFields struct {
		NodeName string `json:"node_name"`
	}
	if err := json.Unmarshal(job.Context, &ctxFields); err != nil || ctxFields.NodeName == "" {
		return job.NodeID
	}
	return ctxFields.NodeName
}

// retryDelay computes an exponential backoff for the next retry attempt,
// capped at one minute with a one second floor.
func retryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	if attempts >= 6 {
		return time.Minute
	}
	return time.Second << attempts
}
