package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pollBlock   = 2 * time.Second
	backoffBase = 5 * time.Second
	backoffCap  = 5 * time.Minute
)

func waitKey(queue string) string    { return "queue:" + queue + ":wait" }
func activeKey(queue string) string  { return "queue:" + queue + ":active" }
func delayedKey(queue string) string { return "queue:" + queue + ":delayed" }
func failedKey(queue string) string  { return "queue:" + queue + ":failed" }
func lockKey(queue, id string) string {
	return "queue:" + queue + ":lock:" + id
}
func stuckKey(entityID, jobType string) string {
	return "stuck:" + entityID + ":" + jobType
}

// Worker pulls items for a single queue and runs them through a handler with
// the derived pool options. Lifecycle signals fire in delivery order for a
// given item: active strictly precedes completed or failed.
type Worker struct {
	rdb     *r.Client
	queue   string
	handler Handler
	opts    WorkerOptions
	log     *zap.Logger

	onActive    func(item *Item)
	onCompleted func(item *Item, result json.RawMessage)
	onFailed    func(item *Item, err error)
	onError     func(err error)

	wg        sync.WaitGroup
	closeCh   chan struct{}
	closeOnce sync.Once

	samples *sampleRing
}

// sampleRing keeps the last N handler durations for one queue so the stall
// loop can report rolling throughput without unbounded growth.
type sampleRing struct {
	mu    sync.Mutex
	buf   []time.Duration
	next  int
	count int
	total uint64
}

func newSampleRing(size int) *sampleRing {
	if size <= 0 {
		size = 1
	}
	return &sampleRing{buf: make([]time.Duration, size)}
}

func (s *sampleRing) record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.next] = d
	s.next = (s.next + 1) % len(s.buf)
	if s.count < len(s.buf) {
		s.count++
	}
	s.total++
}

// snapshot reports the lifetime processed count and the mean duration over
// the retained window.
func (s *sampleRing) snapshot() (processed uint64, avg time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return s.total, 0
	}
	var sum time.Duration
	for i := 0; i < s.count; i++ {
		sum += s.buf[i]
	}
	return s.total, sum / time.Duration(s.count)
}

func NewWorker(conn *Connection, queue string, handler Handler, opts WorkerOptions, log *zap.Logger) *Worker {
	return &Worker{
		rdb:     conn.Client(),
		queue:   queue,
		handler: handler,
		opts:    opts,
		log:     log,
		closeCh: make(chan struct{}),
		samples: newSampleRing(opts.MetricsWindow),
	}
}

func (w *Worker) Name() string { return w.queue }

func (w *Worker) OnActive(fn func(item *Item))                       { w.onActive = fn }
func (w *Worker) OnCompleted(fn func(item *Item, r json.RawMessage)) { w.onCompleted = fn }
func (w *Worker) OnFailed(fn func(item *Item, err error))            { w.onFailed = fn }
func (w *Worker) OnError(fn func(err error))                         { w.onError = fn }

func (w *Worker) Run(ctx context.Context) {
	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
	w.wg.Add(1)
	go w.stalledLoop(ctx)
}

// Close stops pulling and waits for in-flight deliveries to finish. The
// queue's own lock TTLs cover anything interrupted harder than that.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() { close(w.closeCh) })
	w.wg.Wait()
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		raw, err := w.rdb.BLMove(ctx, waitKey(w.queue), activeKey(w.queue), "RIGHT", "LEFT", pollBlock).Result()
		if err == r.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.emitError(err)
			select {
			case <-w.closeCh:
				return
			case <-time.After(pollBlock):
			}
			continue
		}

		w.process(ctx, raw)
	}
}

func (w *Worker) process(ctx context.Context, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// malformed item: drop it from active, nothing else we can do
		w.emitError(err)
		if err := w.rdb.LRem(ctx, activeKey(w.queue), 1, raw).Err(); err != nil {
			w.log.Warn("active list removal failed", zap.String("queue", w.queue), zap.Error(err))
		}
		return
	}

	started := time.Now()
	env.AttemptsMade++
	item := env.item(w.queue)

	lock := lockKey(w.queue, env.ID)
	if err := w.rdb.Set(ctx, lock, "1", w.opts.LockDuration).Err(); err != nil {
		w.log.Warn("lock set failed", zap.String("jobId", env.ID), zap.Error(err))
	}

	if w.onActive != nil {
		w.onActive(item)
	}

	result, handleErr := w.safeHandle(ctx, item)

	// item data may have been linked to a ledger record during this
	// delivery; carry it into any redelivery
	env.Data = item.Data

	if handleErr == nil {
		if w.onCompleted != nil {
			w.onCompleted(item, result)
		}
	} else {
		if w.onFailed != nil {
			w.onFailed(item, handleErr)
		}
		if item.WillRetry() {
			w.requeue(ctx, env)
		} else {
			w.bury(ctx, env)
		}
	}

	// a failure here leaves the item on the active list (or the lock alive)
	// until stall detection picks it up; log it so the delay is explainable
	if err := w.rdb.LRem(ctx, activeKey(w.queue), 1, raw).Err(); err != nil {
		w.log.Warn("active list removal failed",
			zap.String("queue", w.queue), zap.String("jobId", env.ID), zap.Error(err))
	}
	if err := w.rdb.Del(ctx, lock).Err(); err != nil {
		w.log.Warn("lock release failed",
			zap.String("queue", w.queue), zap.String("jobId", env.ID), zap.Error(err))
	}

	w.samples.record(time.Since(started))
}

func (w *Worker) safeHandle(ctx context.Context, item *Item) (res json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("handler panic: %v", rec)
		}
	}()
	return w.handler.Handle(ctx, item)
}

func (w *Worker) requeue(ctx context.Context, env envelope) {
	delay := backoff(env.AttemptsMade)
	buf, err := json.Marshal(env)
	if err != nil {
		w.emitError(err)
		return
	}
	err = w.rdb.ZAdd(ctx, delayedKey(w.queue), r.Z{
		Score:  float64(time.Now().Add(delay).Unix()),
		Member: string(buf),
	}).Err()
	if err != nil {
		w.emitError(err)
	}
}

func (w *Worker) bury(ctx context.Context, env envelope) {
	buf, err := json.Marshal(env)
	if err != nil {
		w.emitError(err)
		return
	}
	if err := w.rdb.LPush(ctx, failedKey(w.queue), string(buf)).Err(); err != nil {
		w.emitError(err)
	}
}

// stalledLoop requeues active items whose lock has expired (the holding
// process died or lost its connection) and promotes due delayed items.
func (w *Worker) stalledLoop(ctx context.Context) {
	defer w.wg.Done()

	tick := time.NewTicker(w.opts.StalledInterval)
	defer tick.Stop()

	for {
		select {
		case <-w.closeCh:
			return
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := w.requeueStalled(ctx); err != nil {
				w.log.Warn("stall check failed", zap.String("queue", w.queue), zap.Error(err))
			}
			if err := PromoteDue(ctx, w.rdb, w.queue, 200); err != nil {
				w.log.Warn("delayed promotion failed", zap.String("queue", w.queue), zap.Error(err))
			}
			if processed, avg := w.samples.snapshot(); processed > 0 {
				w.log.Info("queue throughput",
					zap.String("queue", w.queue),
					zap.Uint64("processed", processed),
					zap.Duration("avgHandle", avg),
				)
			}
		}
	}
}

func (w *Worker) requeueStalled(ctx context.Context) error {
	raws, err := w.rdb.LRange(ctx, activeKey(w.queue), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, raw := range raws {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		exists, err := w.rdb.Exists(ctx, lockKey(w.queue, env.ID)).Result()
		if err != nil || exists > 0 {
			continue
		}
		removed, err := w.rdb.LRem(ctx, activeKey(w.queue), 1, raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := w.rdb.LPush(ctx, waitKey(w.queue), raw).Err(); err != nil {
			w.emitError(err)
			continue
		}
		if env.Data.EntityID != "" {
			w.rdb.Incr(ctx, stuckKey(env.Data.EntityID, env.Name))
		}
		w.log.Warn("stalled job requeued",
			zap.String("queue", w.queue),
			zap.String("jobId", env.ID),
			zap.String("jobType", env.Name),
			zap.Int("attempt", env.AttemptsMade),
		)
	}
	return nil
}

func (w *Worker) emitError(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

// backoff grows exponentially per prior attempt: 5s, 10s, 20s, ... capped.
func backoff(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	d := backoffBase << (attemptsMade - 1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// PromoteDue moves delayed items whose due time has passed onto the wait
// list, batched through one pipeline.
func PromoteDue(ctx context.Context, rdb *r.Client, queue string, batch int64) error {
	now := time.Now().Unix()
	raws, err := rdb.ZRangeByScore(ctx, delayedKey(queue), &r.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now, 10), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(raws) == 0 {
		return err
	}
	pipe := rdb.TxPipeline()
	for _, raw := range raws {
		pipe.LPush(ctx, waitKey(queue), raw)
		pipe.ZRem(ctx, delayedKey(queue), raw)
	}
	_, err = pipe.Exec(ctx)
	return err
}
