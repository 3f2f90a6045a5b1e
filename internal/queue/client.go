package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/jobcore/internal/domain"
)

// Client is the enqueue-side handle on the queue transport.
type Client struct {
	rdb *r.Client
}

func NewClient(conn *Connection) *Client { return &Client{rdb: conn.Client()} }

type EnqueueOptions struct {
	EntityID    string
	LedgerID    string // pre-linked ledger record, optional
	Body        json.RawMessage
	Delay       time.Duration
	Priority    int
	MaxAttempts int
}

// Enqueue pushes a named job onto a queue and returns the item id. Delayed
// jobs land on the delay set and are promoted once due.
func (c *Client) Enqueue(ctx context.Context, queue string, jobType domain.JobType, opts EnqueueOptions) (string, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	env := envelope{
		ID:   uuid.NewString(),
		Name: string(jobType),
		Data: Payload{
			EntityID: opts.EntityID,
			LedgerID: opts.LedgerID,
			Body:     opts.Body,
		},
		MaxAttempts: opts.MaxAttempts,
		Priority:    opts.Priority,
		EnqueuedAt:  time.Now().Unix(),
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return "", errors.Wrap(err, "marshal envelope")
	}

	if opts.Delay > 0 {
		err = c.rdb.ZAdd(ctx, delayedKey(queue), r.Z{
			Score:  float64(time.Now().Add(opts.Delay).Unix()),
			Member: string(buf),
		}).Err()
	} else {
		err = c.rdb.LPush(ctx, waitKey(queue), string(buf)).Err()
	}
	if err != nil {
		return "", errors.Wrap(err, "push item")
	}
	return env.ID, nil
}

// QueueMetric is a point-in-time depth snapshot for one queue.
type QueueMetric struct {
	Queue   string
	Waiting int64
	Active  int64
	Delayed int64
	Failed  int64
}

// Idle reports whether nothing is pending or in flight. Failed-only queues
// count as idle so dead items do not spam the depth sampler.
func (m QueueMetric) Idle() bool {
	return m.Waiting == 0 && m.Active == 0 && m.Delayed == 0
}

func (c *Client) QueueMetrics(ctx context.Context, queue string) (QueueMetric, error) {
	pipe := c.rdb.Pipeline()
	waiting := pipe.LLen(ctx, waitKey(queue))
	active := pipe.LLen(ctx, activeKey(queue))
	delayed := pipe.ZCard(ctx, delayedKey(queue))
	failed := pipe.LLen(ctx, failedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueMetric{}, errors.Wrap(err, "queue metrics")
	}
	return QueueMetric{
		Queue:   queue,
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

// AllQueueMetrics snapshots every managed queue; a failure on one queue
// fails the whole read, callers treat it as best-effort.
func (c *Client) AllQueueMetrics(ctx context.Context, queues []string) ([]QueueMetric, error) {
	out := make([]QueueMetric, 0, len(queues))
	for _, q := range queues {
		m, err := c.QueueMetrics(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
