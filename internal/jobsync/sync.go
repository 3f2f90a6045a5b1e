// Package jobsync translates queue lifecycle transitions into durable
// ledger records. Writes are strictly best-effort: a store outage is logged
// and swallowed so it can never propagate back into event dispatch.
package jobsync

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/you/jobcore/internal/domain"
	"github.com/you/jobcore/internal/queue"
	"github.com/you/jobcore/internal/storage"
)

const (
	// ErrSummaryLimit bounds error text for list/summary display contexts.
	ErrSummaryLimit = 100
	// ErrDetailLimit bounds error text for the detail view and is the
	// default stored bound.
	ErrDetailLimit = 200
)

// Ledger is the narrow slice of the relational store the syncer writes to.
type Ledger interface {
	CreateJob(ctx context.Context, p storage.CreateJobParams) (string, error)
	UpdateJob(ctx context.Context, id string, u domain.JobUpdate) error
}

// Tracker registers in-flight writes so shutdown can flush them.
type Tracker interface {
	Add()
	Done()
}

type noopTracker struct{}

func (noopTracker) Add()  {}
func (noopTracker) Done() {}

type Syncer struct {
	ledger   Ledger
	log      *zap.Logger
	errLimit int
	tracker  Tracker
	now      func() time.Time
}

type Option func(*Syncer)

// WithErrorLimit sets the stored error-text bound for this syncer. Call
// sites serving the summary context pass ErrSummaryLimit.
func WithErrorLimit(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.errLimit = n
		}
	}
}

func WithTracker(t Tracker) Option {
	return func(s *Syncer) { s.tracker = t }
}

func New(ledger Ledger, log *zap.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		ledger:   ledger,
		log:      log,
		errLimit: ErrDetailLimit,
		tracker:  noopTracker{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnTransition records one lifecycle transition for an item. On the first
// RUNNING transition of an unlinked item it lazily creates the record and
// writes the new id back onto the item so later events (including retry
// redeliveries) can find it. With no resolvable id the update is dropped.
func (s *Syncer) OnTransition(ctx context.Context, item *queue.Item, status domain.Status, result json.RawMessage, errText string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("ledger sync panic", zap.Any("panic", rec), zap.String("jobId", item.ID))
		}
	}()

	if status == domain.Running && item.Data.LedgerID == "" {
		s.createRecord(ctx, item)
		return
	}
	if item.Data.LedgerID == "" {
		// creation never succeeded; availability over completeness
		s.log.Debug("ledger update dropped, no record id",
			zap.String("jobId", item.ID),
			zap.String("jobType", item.Name),
			zap.String("status", string(status)),
		)
		return
	}

	upd := domain.JobUpdate{
		Status:   status,
		Attempts: item.AttemptsMade,
	}
	now := s.now()
	if status == domain.Running {
		upd.StartedAt = &now
	}
	if status.Terminal() {
		upd.CompletedAt = &now
	}
	if result != nil {
		upd.Result = result
	}
	if errText != "" {
		t := truncate(errText, s.errLimit)
		upd.Error = &t
	}

	s.tracker.Add()
	defer s.tracker.Done()

	if err := s.ledger.UpdateJob(ctx, item.Data.LedgerID, upd); err != nil {
		s.log.Error("ledger update failed",
			zap.String("jobId", item.ID),
			zap.String("jobType", item.Name),
			zap.String("ledgerId", item.Data.LedgerID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (s *Syncer) createRecord(ctx context.Context, item *queue.Item) {
	jobType, err := domain.ParseJobType(item.Name)
	if err != nil {
		s.log.Error("ledger create skipped", zap.String("jobId", item.ID), zap.Error(err))
		return
	}

	now := s.now()
	params := storage.CreateJobParams{
		Type:      jobType,
		QueueName: domain.ScheduledQueue,
		Payload:   item.Data.Body,
		Status:    domain.Running,
		Attempts:  item.AttemptsMade,
		StartedAt: &now,
	}
	if item.Data.EntityID != "" {
		entity := item.Data.EntityID
		params.EntityID = &entity
	}

	s.tracker.Add()
	defer s.tracker.Done()

	id, err := s.ledger.CreateJob(ctx, params)
	if err != nil {
		s.log.Error("ledger create failed",
			zap.String("jobId", item.ID),
			zap.String("jobType", item.Name),
			zap.Error(err),
		)
		return
	}
	item.Data.LedgerID = id
}

// truncate bounds s to n bytes without splitting a rune; a torn multibyte
// sequence would be invalid UTF-8 and make the store reject the whole row.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
