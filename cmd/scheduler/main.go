package main

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/jobcore/internal/config"
	"github.com/you/jobcore/internal/domain"
	"github.com/you/jobcore/internal/logging"
	"github.com/you/jobcore/internal/queue"
	"github.com/you/jobcore/internal/shutdown"
)

// advisory lock id for scheduler leader election
const leaderLockID = 42

func main() {
	cfg := config.Load()
	log := logging.New(cfg.AppEnv)
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres open", zap.Error(err))
	}

	conn, err := queue.NewConnection(ctx, queue.ConnConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	client := queue.NewClient(conn)

	// cron-triggered jobs are enqueued without a pre-linked ledger record;
	// the worker's ledger sync creates one lazily on first delivery
	c := cron.New()
	for typeName, spec := range cfg.Schedules {
		jobType, err := domain.ParseJobType(typeName)
		if err != nil {
			log.Fatal("bad schedule entry", zap.String("jobType", typeName), zap.Error(err))
		}
		spec := spec
		_, err = c.AddFunc(spec, func() {
			if !isLeader(ctx, db, log) {
				return
			}
			id, err := client.Enqueue(ctx, domain.ScheduledQueue, jobType, queue.EnqueueOptions{
				EntityID:    domain.BroadcastEntity,
				MaxAttempts: cfg.MaxAttempts,
			})
			if err != nil {
				log.Error("scheduled enqueue failed", zap.String("jobType", string(jobType)), zap.Error(err))
				return
			}
			log.Info("scheduled job enqueued",
				zap.String("event", "enqueued"),
				zap.String("jobId", id),
				zap.String("jobType", string(jobType)),
			)
		})
		if err != nil {
			log.Fatal("bad cron spec", zap.String("spec", spec), zap.Error(err))
		}
	}

	shutdown.Setup(log, conn, nil, shutdown.WithCleanup(func() {
		c.Stop()
		db.Close() //nolint:errcheck
	}))

	logging.Banner(log, "scheduler", cfg.Queues)
	c.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// promote due delayed items for every managed queue
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-tick.C:
				if !isLeader(gctx, db, log) {
					continue
				}
				for _, q := range cfg.WorkerQueues() {
					if err := queue.PromoteDue(gctx, conn.Client(), q, 200); err != nil {
						log.Warn("delayed promotion failed", zap.String("queue", q), zap.Error(err))
					}
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		log.Fatal("scheduler stopped", zap.Error(err))
	}
}

func isLeader(ctx context.Context, db *sql.DB, log *zap.Logger) bool {
	var ok bool
	if err := db.QueryRowContext(ctx, "select pg_try_advisory_lock($1)", leaderLockID).Scan(&ok); err != nil {
		log.Warn("leader lock check failed", zap.Error(err))
		return false
	}
	return ok
}
