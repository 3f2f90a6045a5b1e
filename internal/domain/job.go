package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	Pending   Status = "PENDING"
	Running   Status = "RUNNING"
	Retrying  Status = "RETRYING"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
)

// Terminal reports whether no further lifecycle transitions are expected.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// JobType is the closed set of job kinds the platform dispatches.
type JobType string

const (
	JobSync            JobType = "SYNC"
	JobReport          JobType = "REPORT"
	JobSEOAnalysis     JobType = "SEO_ANALYSIS"
	JobAdBid           JobType = "AD_BID"
	JobContentGen      JobType = "CONTENT_GEN"
	JobAnalyticsRollup JobType = "ANALYTICS_ROLLUP"
)

var ErrUnknownJobType = errors.New("unknown job type")

var knownTypes = map[JobType]struct{}{
	JobSync:            {},
	JobReport:          {},
	JobSEOAnalysis:     {},
	JobAdBid:           {},
	JobContentGen:      {},
	JobAnalyticsRollup: {},
}

func ParseJobType(s string) (JobType, error) {
	t := JobType(s)
	if _, ok := knownTypes[t]; !ok {
		return "", errors.WithMessage(ErrUnknownJobType, s)
	}
	return t, nil
}

// BroadcastEntity marks a job addressed to every tenant; such jobs are
// never deduplicated.
const BroadcastEntity = "all"

// ScheduledQueue carries cron-triggered jobs. Every worker process serves
// it in addition to its configured queues.
const ScheduledQueue = "scheduled"

// JobRecord is the durable row in the jobs ledger.
// Invariant: CompletedAt is non-nil iff Status is terminal, and Attempts
// never decreases across updates for the same id.
type JobRecord struct {
	ID          string
	Type        JobType
	QueueName   string
	Payload     json.RawMessage
	Status      Status
	Attempts    int
	Priority    int
	EntityID    *string
	Result      json.RawMessage
	Error       *string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// JobUpdate carries the fields of a single ledger update; nil fields are
// left untouched by the store.
type JobUpdate struct {
	Status      Status
	Attempts    int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      json.RawMessage
	Error       *string
}
