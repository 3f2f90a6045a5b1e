// Package monitor runs the periodic resource samplers: process heap/RSS,
// queue depth, and the backing store's own memory. None of the loops sit on
// the job-execution path and each swallows its own errors, so a failure in
// one never stops the others.
package monitor

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/queue"
)

type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelCritical Level = "CRITICAL"
)

// DepthProvider snapshots item counts for every managed queue.
type DepthProvider interface {
	AllQueueMetrics(ctx context.Context, queues []string) ([]queue.QueueMetric, error)
}

// StoreInfo reads the backing store's self-reported memory.
type StoreInfo interface {
	MemoryInfo(ctx context.Context) (used, max string, err error)
}

// Gauges receives sampled values; satisfied by the metrics exporter.
type Gauges interface {
	SetHeapMB(v float64)
	SetQueueDepth(queue, state string, v float64)
}

type Config struct {
	HeapInterval   time.Duration
	DepthInterval  time.Duration
	StoreInterval  time.Duration
	HeapWarnMB     uint64
	HeapCriticalMB uint64
	Queues         []string
}

type Monitor struct {
	cfg    Config
	log    *zap.Logger
	depth  DepthProvider
	store  StoreInfo
	gauges Gauges

	// injectable for tests
	readMem func() (heapMB, rssMB uint64, err error)
	collect func()

	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

func New(cfg Config, log *zap.Logger, depth DepthProvider, store StoreInfo, gauges Gauges) *Monitor {
	return &Monitor{
		cfg:     cfg,
		log:     log,
		depth:   depth,
		store:   store,
		gauges:  gauges,
		readMem: readProcessMemory,
		collect: forceCollect,
		stopCh:  make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	m.loop(m.cfg.HeapInterval, m.sampleHeap)
	m.loop(m.cfg.DepthInterval, m.sampleDepth)
	m.loop(m.cfg.StoreInterval, m.sampleStore)
}

func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) loop(interval time.Duration, sample func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-tick.C:
				m.safeSample(sample)
			}
		}
	}()
}

func (m *Monitor) safeSample(sample func(ctx context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("sampler panic", zap.Any("panic", rec))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sample(ctx)
}

func (m *Monitor) sampleHeap(context.Context) {
	heapMB, rssMB, err := m.readMem()
	if err != nil {
		m.log.Warn("memory read failed", zap.Error(err))
		return
	}

	level := LevelInfo
	switch {
	case heapMB >= m.cfg.HeapCriticalMB:
		level = LevelCritical
	case heapMB >= m.cfg.HeapWarnMB:
		level = LevelWarn
	}

	m.log.Info("memory snapshot",
		zap.Uint64("heapMB", heapMB),
		zap.Uint64("rssMB", rssMB),
		zap.String("level", string(level)),
	)
	if m.gauges != nil {
		m.gauges.SetHeapMB(float64(heapMB))
	}

	if level == LevelCritical && m.collect != nil {
		m.log.Warn("forcing collection", zap.Uint64("heapMB", heapMB))
		m.collect()
		if after, _, err := m.readMem(); err == nil {
			m.log.Info("collection done", zap.Uint64("heapMB", after))
		}
	}
}

func (m *Monitor) sampleDepth(ctx context.Context) {
	stats, err := m.depth.AllQueueMetrics(ctx, m.cfg.Queues)
	if err != nil {
		m.log.Warn("queue depth read failed", zap.Error(err))
		return
	}
	for _, s := range stats {
		if m.gauges != nil {
			m.gauges.SetQueueDepth(s.Queue, "waiting", float64(s.Waiting))
			m.gauges.SetQueueDepth(s.Queue, "active", float64(s.Active))
			m.gauges.SetQueueDepth(s.Queue, "delayed", float64(s.Delayed))
			m.gauges.SetQueueDepth(s.Queue, "failed", float64(s.Failed))
		}
		if s.Idle() {
			continue
		}
		m.log.Info("queue depth",
			zap.String("queue", s.Queue),
			zap.Int64("waiting", s.Waiting),
			zap.Int64("active", s.Active),
			zap.Int64("delayed", s.Delayed),
			zap.Int64("failed", s.Failed),
		)
	}
}

func (m *Monitor) sampleStore(ctx context.Context) {
	used, max, err := m.store.MemoryInfo(ctx)
	if err != nil {
		m.log.Warn("store memory read failed", zap.Error(err))
		return
	}
	m.log.Info("store memory",
		zap.String("used", used),
		zap.String("max", max),
	)
}

func readProcessMemory() (heapMB, rssMB uint64, err error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMB = ms.HeapAlloc / (1 << 20)

	// RSS is best-effort; /proc may be unavailable in some sandboxes
	if proc, perr := procfs.Self(); perr == nil {
		if stat, serr := proc.Stat(); serr == nil {
			rssMB = uint64(stat.ResidentMemory()) / (1 << 20)
		}
	}
	return heapMB, rssMB, nil
}

func forceCollect() {
	runtime.GC()
	debug.FreeOSMemory()
}
