package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/jobcore/internal/domain"
)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

type CreateJobParams struct {
	Type      domain.JobType
	QueueName string
	Payload   json.RawMessage
	Status    domain.Status
	Attempts  int
	Priority  int
	EntityID  *string
	StartedAt *time.Time
}

// CreateJob persists a new ledger record (source of truth) and returns its id.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `insert into jobs(
id, type, queue_name, payload, status, attempts, priority, entity_id, started_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		id, string(p.Type), p.QueueName, p.Payload, string(p.Status),
		p.Attempts, p.Priority, p.EntityID, p.StartedAt,
	)
	if err != nil {
		return "", errors.Wrap(err, "insert job")
	}
	return id, nil
}

// UpdateJob applies a partial update to an existing record. Attempts is
// guarded against going backwards so a late write from a previous delivery
// cannot undo a retry count.
func (s *Store) UpdateJob(ctx context.Context, id string, u domain.JobUpdate) error {
	set := []string{
		"status = $2",
		"attempts = greatest(attempts, $3)",
		"updated_at = now()",
	}
	args := []any{id, string(u.Status), u.Attempts}

	if u.StartedAt != nil {
		args = append(args, *u.StartedAt)
		set = append(set, "started_at = $"+strconv.Itoa(len(args)))
	}
	if u.CompletedAt != nil {
		args = append(args, *u.CompletedAt)
		set = append(set, "completed_at = $"+strconv.Itoa(len(args)))
	}
	if u.Result != nil {
		args = append(args, u.Result)
		set = append(set, "result = $"+strconv.Itoa(len(args)))
	}
	if u.Error != nil {
		args = append(args, *u.Error)
		set = append(set, "error = $"+strconv.Itoa(len(args)))
	}

	_, err := s.db.Exec(ctx, "update jobs set "+strings.Join(set, ", ")+" where id = $1", args...)
	return errors.Wrap(err, "update job")
}
