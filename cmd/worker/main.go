package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/config"
	"github.com/you/jobcore/internal/dedup"
	"github.com/you/jobcore/internal/domain"
	"github.com/you/jobcore/internal/events"
	"github.com/you/jobcore/internal/jobsync"
	"github.com/you/jobcore/internal/logging"
	"github.com/you/jobcore/internal/metrics"
	"github.com/you/jobcore/internal/monitor"
	"github.com/you/jobcore/internal/queue"
	"github.com/you/jobcore/internal/shutdown"
	"github.com/you/jobcore/internal/storage"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.AppEnv)
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()

	if err := storage.Migrate(cfg.PostgresDSN, "migrations"); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	conn, err := queue.NewConnection(ctx, queue.ConnConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}

	store := storage.New(db)
	client := queue.NewClient(conn)
	keys := dedup.New(conn.Client(), log)
	pending := shutdown.NewPending()
	syncer := jobsync.New(store, log,
		jobsync.WithErrorLimit(cfg.ErrorTextLimit),
		jobsync.WithTracker(pending),
	)
	exporter := metrics.NewExporter()

	// business handlers (SEO analysis, ad bidding, content generation) live
	// in the platform services and are registered here by job type
	mux := queue.NewMux()
	mux.Register(domain.JobSync, queue.HandlerFunc(func(ctx context.Context, it *queue.Item) (json.RawMessage, error) {
		return nil, nil // site content sync
	}))
	mux.Register(domain.JobReport, queue.HandlerFunc(func(ctx context.Context, it *queue.Item) (json.RawMessage, error) {
		return nil, nil // tenant report build
	}))
	mux.Register(domain.JobSEOAnalysis, queue.HandlerFunc(func(ctx context.Context, it *queue.Item) (json.RawMessage, error) {
		return nil, nil // SEO page analysis
	}))
	mux.Register(domain.JobAdBid, queue.HandlerFunc(func(ctx context.Context, it *queue.Item) (json.RawMessage, error) {
		return nil, nil // ad bid computation
	}))
	mux.Register(domain.JobContentGen, queue.HandlerFunc(func(ctx context.Context, it *queue.Item) (json.RawMessage, error) {
		return nil, nil // AI content generation
	}))
	mux.Register(domain.JobAnalyticsRollup, queue.HandlerFunc(func(ctx context.Context, it *queue.Item) (json.RawMessage, error) {
		return nil, nil // analytics aggregation
	}))

	queues := cfg.WorkerQueues()
	workers := make([]*queue.Worker, 0, len(queues))
	for _, q := range queues {
		opts := queue.MakeWorkerOptions(q, cfg.Concurrency, cfg)
		workers = append(workers, queue.NewWorker(conn, q, mux, opts, log))
	}
	events.SetupWorkerEvents(log, syncer, keys, exporter, workers...)

	mon := monitor.New(monitor.Config{
		HeapInterval:   cfg.HeapInterval,
		DepthInterval:  cfg.DepthInterval,
		StoreInterval:  cfg.StoreInterval,
		HeapWarnMB:     cfg.HeapWarnMB,
		HeapCriticalMB: cfg.HeapCriticalMB,
		Queues:         queues,
	}, log, client, conn, exporter)
	mon.Start()

	closers := make([]shutdown.Closer, len(workers))
	for i, w := range workers {
		closers[i] = w
	}
	shutdown.Setup(log, conn, closers,
		shutdown.WithPending(pending, cfg.ShutdownFlushTimeout),
		shutdown.WithStoppers(mon),
		shutdown.WithPostFlush(shutdown.CloserFunc(func() error {
			db.Close()
			return nil
		})),
	)

	for _, w := range workers {
		w.Run(ctx)
	}
	logging.Banner(log, "worker", queues)

	reg := prometheus.NewRegistry()
	reg.MustRegister(exporter)

	rtr := chi.NewRouter()
	rtr.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})
	rtr.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "db ping failed", http.StatusServiceUnavailable)
			return
		}
		if err := conn.Client().Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis ping failed", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ready":true}`)) //nolint:errcheck
	})
	rtr.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if err := http.ListenAndServe(cfg.OpsAddr, rtr); err != nil {
		log.Fatal("ops listener", zap.Error(err))
	}
}
