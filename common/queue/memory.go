package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noetl/noetl/common/ids"
	"github.com/noetl/noetl/common/models"
)

// MemoryQueue is an in-process Queue for broker/worker unit tests, adapted
// from the teacher's own in-memory queue fake to this package's lease
// semantics.
type MemoryQueue struct {
	mu      sync.Mutex
	rows    map[int64]*models.QueueJob
	nextID  int64
	byExNod map[string]int64 // "executionID:nodeID" -> queueID, non-terminal only
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		rows:    make(map[int64]*models.QueueJob),
		byExNod: make(map[string]int64),
	}
}

var _ Queue = (*MemoryQueue)(nil)

func key(executionID int64, nodeID string) string {
	return fmt.Sprintf("%d:%s", executionID, nodeID)
}

func (q *MemoryQueue) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := key(req.ExecutionID, req.NodeID)
	if existingID, ok := q.byExNod[k]; ok {
		return existingID, nil
	}

	availableAt := req.AvailableAt
	if availableAt.IsZero() {
		availableAt = time.Now()
	}

	q.nextID++
	id := q.nextID
	var catalogID *ids.ID
	if req.CatalogID != nil {
		c := ids.ID(*req.CatalogID)
		catalogID = &c
	}
	q.rows[id] = &models.QueueJob{
		QueueID:     ids.ID(id),
		ExecutionID: ids.ID(req.ExecutionID),
		NodeID:      req.NodeID,
		CatalogID:   catalogID,
		Action:      req.Action,
		Context:     req.Context,
		Priority:    req.Priority,
		Status:      models.QueueQueued,
		MaxAttempts: req.MaxAttempts,
		AvailableAt: availableAt,
		CreatedAt:   time.Now(),
	}
	q.byExNod[k] = id
	return id, nil
}

func (q *MemoryQueue) Lease(ctx context.Context, workerID string, leaseSeconds int) (*models.QueueJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *models.QueueJob
	now := time.Now()
	for _, j := range q.rows {
		if j.Status != models.QueueQueued || j.AvailableAt.After(now) {
			continue
		}
		if best == nil ||
			j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.QueueID < best.QueueID) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = models.QueueLeased
	best.WorkerID = workerID
	leaseUntil := now.Add(time.Duration(leaseSeconds) * time.Second)
	best.LeaseUntil = &leaseUntil
	best.LastHeartbeat = &now
	best.Attempts++

	cp := *best
	return &cp, nil
}

func (q *MemoryQueue) Heartbeat(ctx context.Context, queueID int64, workerID string, extendSeconds int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.rows[queueID]
	if !ok {
		return ErrNotFound
	}
	if j.WorkerID != workerID {
		return ErrWorkerMismatch
	}
	now := time.Now()
	j.LastHeartbeat = &now
	if extendSeconds > 0 {
		leaseUntil := now.Add(time.Duration(extendSeconds) * time.Second)
		j.LeaseUntil = &leaseUntil
	}
	return nil
}

func (q *MemoryQueue) Complete(ctx context.Context, queueID int64, workerID string) (*models.QueueJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.rows[queueID]
	if !ok {
		return nil, ErrNotFound
	}
	if j.WorkerID != workerID {
		return nil, ErrWorkerMismatch
	}
	j.Status = models.QueueDone
	j.LeaseUntil = nil
	delete(q.byExNod, key(int64(j.ExecutionID), j.NodeID))

	cp := *j
	return &cp, nil
}

func (q *MemoryQueue) Fail(ctx context.Context, queueID int64, workerID string, retry bool, retryDelay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.rows[queueID]
	if !ok {
		return ErrNotFound
	}
	if j.WorkerID != workerID {
		return ErrWorkerMismatch
	}

	if !retry || j.Attempts >= j.MaxAttempts {
		j.Status = models.QueueDead
		j.LeaseUntil = nil
		delete(q.byExNod, key(int64(j.ExecutionID), j.NodeID))
		return nil
	}

	j.Status = models.QueueQueued
	j.WorkerID = ""
	j.LeaseUntil = nil
	j.AvailableAt = time.Now().Add(retryDelay)
	return nil
}

func (q *MemoryQueue) ReapExpired(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	count := 0
	for _, j := range q.rows {
		if j.Status == models.QueueLeased && j.LeaseUntil != nil && j.LeaseUntil.Before(now) {
			j.Status = models.QueueQueued
			j.WorkerID = ""
			j.LeaseUntil = nil
			count++
		}
	}
	return count, nil
}

func (q *MemoryQueue) ByExecutionNode(ctx context.Context, executionID int64, nodeID string) (*models.QueueJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, ok := q.byExNod[key(executionID, nodeID)]
	if !ok {
		return nil, nil
	}
	cp := *q.rows[id]
	return &cp, nil
}

func (q *MemoryQueue) MarkDone(ctx context.Context, queueID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.rows[queueID]
	if !ok {
		return ErrNotFound
	}
	j.Status = models.QueueDone
	j.LeaseUntil = nil
	delete(q.byExNod, key(int64(j.ExecutionID), j.NodeID))
	return nil
}
