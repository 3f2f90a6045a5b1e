// Package events wires a worker pool's lifecycle signals to the ledger
// syncer and the dedup key controller. Every callback body is defensive:
// one failing callback must never crash the process or block the next
// delivery.
package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/you/jobcore/internal/domain"
	"github.com/you/jobcore/internal/queue"
)

type Syncer interface {
	OnTransition(ctx context.Context, item *queue.Item, status domain.Status, result json.RawMessage, errText string)
}

// KeyController releases dedup markers and resets the externally-owned
// consecutive-failure counter.
type KeyController interface {
	Release(ctx context.Context, entityID, jobType string)
	ResetStuckCount(ctx context.Context, entityID, jobType string)
}

// Counter receives job outcome ticks; satisfied by the metrics exporter.
type Counter interface {
	JobOk()
	JobErr()
}

type Binder struct {
	log     *zap.Logger
	syncer  Syncer
	keys    KeyController
	counter Counter
}

func NewBinder(log *zap.Logger, syncer Syncer, keys KeyController, counter Counter) *Binder {
	return &Binder{log: log, syncer: syncer, keys: keys, counter: counter}
}

// SetupWorkerEvents binds active/completed/failed/error for every worker in
// the pool set.
func SetupWorkerEvents(log *zap.Logger, syncer Syncer, keys KeyController, counter Counter, workers ...*queue.Worker) {
	b := NewBinder(log, syncer, keys, counter)
	for _, w := range workers {
		b.Bind(w)
	}
}

func (b *Binder) Bind(w *queue.Worker) {
	w.OnActive(b.Active)
	w.OnCompleted(b.Completed)
	w.OnFailed(b.Failed)
	w.OnError(func(err error) { b.WorkerError(w.Name(), err) })
}

func (b *Binder) Active(item *queue.Item) {
	defer b.recoverCallback("active", item)
	b.syncer.OnTransition(context.Background(), item, domain.Running, nil, "")
}

func (b *Binder) Completed(item *queue.Item, result json.RawMessage) {
	defer b.recoverCallback("completed", item)
	ctx := context.Background()

	b.syncer.OnTransition(ctx, item, domain.Completed, result, "")
	b.keys.ResetStuckCount(ctx, item.Data.EntityID, item.Name)
	b.keys.Release(ctx, item.Data.EntityID, item.Name)
	if b.counter != nil {
		b.counter.JobOk()
	}

	b.log.Info("job completed",
		zap.String("event", "completed"),
		zap.String("jobId", item.ID),
		zap.String("jobType", item.Name),
		zap.String("ledgerId", item.Data.LedgerID),
		zap.String("entityId", item.Data.EntityID),
		zap.Int("attempt", item.AttemptsMade),
	)
}

func (b *Binder) Failed(item *queue.Item, err error) {
	defer b.recoverCallback("failed", item)
	ctx := context.Background()

	willRetry := item.WillRetry()
	status := domain.Failed
	if willRetry {
		status = domain.Retrying
	}

	b.syncer.OnTransition(ctx, item, status, nil, err.Error())
	if !willRetry {
		// a pending retry still owns the dedup slot; releasing early
		// would let a duplicate be enqueued concurrently
		b.keys.Release(ctx, item.Data.EntityID, item.Name)
	}
	if b.counter != nil {
		b.counter.JobErr()
	}

	b.log.Warn("job failed",
		zap.String("event", "failed"),
		zap.String("jobId", item.ID),
		zap.String("jobType", item.Name),
		zap.String("ledgerId", item.Data.LedgerID),
		zap.String("entityId", item.Data.EntityID),
		zap.Int("attempt", item.AttemptsMade),
		zap.Bool("willRetry", willRetry),
		zap.Error(err),
	)
}

// WorkerError handles engine-level errors carrying no job context; nothing
// in the ledger or key store can change without an item.
func (b *Binder) WorkerError(queueName string, err error) {
	b.log.Error("worker error",
		zap.String("event", "error"),
		zap.String("queue", queueName),
		zap.Error(err),
	)
}

func (b *Binder) recoverCallback(event string, item *queue.Item) {
	if rec := recover(); rec != nil {
		b.log.Error("event callback panic",
			zap.String("event", event),
			zap.String("jobId", item.ID),
			zap.String("jobType", item.Name),
			zap.Any("panic", rec),
		)
	}
}
