package jobsync

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/domain"
	"github.com/you/jobcore/internal/queue"
	"github.com/you/jobcore/internal/storage"
)

type fakeRecord struct {
	params  storage.CreateJobParams
	updates []domain.JobUpdate
}

type fakeLedger struct {
	createErr error
	updateErr error
	records   map[string]*fakeRecord
	nextID    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]*fakeRecord{}}
}

func (f *fakeLedger) CreateJob(_ context.Context, p storage.CreateJobParams) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := "rec-" + string(rune('0'+f.nextID))
	f.records[id] = &fakeRecord{params: p}
	return id, nil
}

func (f *fakeLedger) UpdateJob(_ context.Context, id string, u domain.JobUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	rec, ok := f.records[id]
	if !ok {
		rec = &fakeRecord{}
		f.records[id] = rec
	}
	rec.updates = append(rec.updates, u)
	return nil
}

func (f *fakeLedger) last(id string) domain.JobUpdate {
	rec := f.records[id]
	return rec.updates[len(rec.updates)-1]
}

func item(ledgerID string, attemptsMade, maxAttempts int) *queue.Item {
	return &queue.Item{
		ID:    "job-1",
		Queue: "default",
		Name:  string(domain.JobSync),
		Data: queue.Payload{
			EntityID: "site-1",
			LedgerID: ledgerID,
		},
		AttemptsMade: attemptsMade,
		MaxAttempts:  maxAttempts,
	}
}

func TestLazyCreateOnRunning(t *testing.T) {
	require := require.New(t)
	ledger := newFakeLedger()
	s := New(ledger, zap.NewNop())

	it := item("", 1, 3)
	s.OnTransition(context.Background(), it, domain.Running, nil, "")

	require.NotEmpty(it.Data.LedgerID)
	rec := ledger.records[it.Data.LedgerID]
	require.NotNil(rec)
	require.Equal(domain.JobSync, rec.params.Type)
	require.Equal(domain.ScheduledQueue, rec.params.QueueName)
	require.Equal(domain.Running, rec.params.Status)
	require.Equal(1, rec.params.Attempts)
	require.NotNil(rec.params.StartedAt)
	require.NotNil(rec.params.EntityID)
	require.Equal("site-1", *rec.params.EntityID)

	// later events for the same item now resolve the record
	s.OnTransition(context.Background(), it, domain.Completed, nil, "")
	require.Len(rec.updates, 1)
	require.Equal(domain.Completed, rec.updates[0].Status)
}

func TestCreateFailureLoggedAndDropped(t *testing.T) {
	require := require.New(t)
	ledger := newFakeLedger()
	ledger.createErr = errors.New("store down")
	s := New(ledger, zap.NewNop())

	it := item("", 1, 3)
	s.OnTransition(context.Background(), it, domain.Running, nil, "")
	require.Empty(it.Data.LedgerID)

	// with no resolvable id, later updates are silently dropped
	ledger.createErr = nil
	s.OnTransition(context.Background(), it, domain.Completed, nil, "")
	require.Empty(ledger.records)
}

func TestCompletedSetsCompletedAt(t *testing.T) {
	require := require.New(t)
	ledger := newFakeLedger()
	s := New(ledger, zap.NewNop())

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	it := item("rec-a", 1, 3)
	s.OnTransition(context.Background(), it, domain.Running, nil, "")

	now = base.Add(time.Minute)
	s.OnTransition(context.Background(), it, domain.Completed, []byte(`{"pages":10}`), "")

	rec := ledger.records["rec-a"]
	require.Len(rec.updates, 2)

	running := rec.updates[0]
	require.Equal(domain.Running, running.Status)
	require.NotNil(running.StartedAt)
	require.Nil(running.CompletedAt)

	completed := rec.updates[1]
	require.Equal(domain.Completed, completed.Status)
	require.Nil(completed.StartedAt)
	require.NotNil(completed.CompletedAt)
	require.False(completed.CompletedAt.Before(*running.StartedAt))
	require.JSONEq(`{"pages":10}`, string(completed.Result))
}

func TestTerminalTransitionIdempotent(t *testing.T) {
	require := require.New(t)
	ledger := newFakeLedger()
	s := New(ledger, zap.NewNop())

	it := item("rec-a", 3, 3)
	s.OnTransition(context.Background(), it, domain.Failed, nil, "boom")
	s.OnTransition(context.Background(), it, domain.Failed, nil, "boom")

	rec := ledger.records["rec-a"]
	require.Len(ledger.records, 1)
	first, second := rec.updates[0], rec.updates[1]
	require.Equal(first.Status, second.Status)
	require.Equal(first.Attempts, second.Attempts)
	require.Equal(*first.Error, *second.Error)
}

func TestErrorTextTruncated(t *testing.T) {
	require := require.New(t)
	long := strings.Repeat("x", 500)

	ledger := newFakeLedger()
	s := New(ledger, zap.NewNop())
	s.OnTransition(context.Background(), item("rec-a", 3, 3), domain.Failed, nil, long)
	require.Len(*ledger.last("rec-a").Error, ErrDetailLimit)

	ledger = newFakeLedger()
	s = New(ledger, zap.NewNop(), WithErrorLimit(ErrSummaryLimit))
	s.OnTransition(context.Background(), item("rec-a", 3, 3), domain.Failed, nil, long)
	require.Len(*ledger.last("rec-a").Error, ErrSummaryLimit)
}

func TestErrorTextTruncationKeepsValidUTF8(t *testing.T) {
	require := require.New(t)
	long := strings.Repeat("€", 100) // 3 bytes per rune, 300 bytes total

	ledger := newFakeLedger()
	s := New(ledger, zap.NewNop())
	s.OnTransition(context.Background(), item("rec-a", 3, 3), domain.Failed, nil, long)

	stored := *ledger.last("rec-a").Error
	require.True(utf8.ValidString(stored))
	require.LessOrEqual(len(stored), ErrDetailLimit)
	require.Equal(strings.Repeat("€", 66), stored) // 198 bytes, rune-aligned
}

func TestRetryingCarriesAttempts(t *testing.T) {
	require := require.New(t)
	ledger := newFakeLedger()
	s := New(ledger, zap.NewNop())

	it := item("rec-a", 2, 3)
	s.OnTransition(context.Background(), it, domain.Retrying, nil, "transient")

	upd := ledger.last("rec-a")
	require.Equal(domain.Retrying, upd.Status)
	require.Equal(2, upd.Attempts)
	require.Nil(upd.CompletedAt)
	require.Nil(upd.StartedAt)
}

func TestStoreOutageNeverPropagates(t *testing.T) {
	ledger := newFakeLedger()
	ledger.updateErr = errors.New("connection reset")
	s := New(ledger, zap.NewNop())

	require.NotPanics(t, func() {
		s.OnTransition(context.Background(), item("rec-a", 1, 3), domain.Completed, nil, "")
	})
}

type countingTracker struct{ adds, dones int }

func (c *countingTracker) Add()  { c.adds++ }
func (c *countingTracker) Done() { c.dones++ }

func TestWritesRegisterWithTracker(t *testing.T) {
	require := require.New(t)
	ledger := newFakeLedger()
	tracker := &countingTracker{}
	s := New(ledger, zap.NewNop(), WithTracker(tracker))

	it := item("", 1, 3)
	s.OnTransition(context.Background(), it, domain.Running, nil, "")
	s.OnTransition(context.Background(), it, domain.Completed, nil, "")

	require.Equal(2, tracker.adds)
	require.Equal(2, tracker.dones)
}
