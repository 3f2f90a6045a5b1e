// Package shutdown drains workers and closes the shared connection on
// termination signals. The sequence runs at most once; exit code 0 means a
// clean drain, 1 means something in the sequence failed.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Pending tracks fire-and-forget writes still in flight so the coordinator
// can flush them before closing the connection.
type Pending struct {
	wg sync.WaitGroup
}

func NewPending() *Pending { return &Pending{} }

func (p *Pending) Add()  { p.wg.Add(1) }
func (p *Pending) Done() { p.wg.Done() }

// WaitTimeout blocks until all tracked operations finish or the timeout
// elapses; it reports whether the flush completed.
func (p *Pending) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

type Closer interface {
	Close() error
}

// CloserFunc adapts a plain function to the Closer interface.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

type Stopper interface {
	Stop()
}

type Coordinator struct {
	log          *zap.Logger
	workers      []Closer
	conn         Closer
	cleanup      func()
	pending      *Pending
	flushTimeout time.Duration
	stoppers     []Stopper
	postFlush    []Closer

	once sync.Once
	exit func(code int)
}

type Option func(*Coordinator)

// WithCleanup runs a caller-supplied synchronous cleanup before workers are
// closed.
func WithCleanup(fn func()) Option {
	return func(c *Coordinator) { c.cleanup = fn }
}

// WithPending makes the coordinator flush tracked writes (bounded by the
// timeout) after draining workers and before closing the connection.
func WithPending(p *Pending, flushTimeout time.Duration) Option {
	return func(c *Coordinator) {
		c.pending = p
		c.flushTimeout = flushTimeout
	}
}

// WithPostFlush closes resources that pending writes depend on, such as the
// ledger's connection pool. They are closed only after the flush, so in-flight
// writes still have a live pool to land on.
func WithPostFlush(closers ...Closer) Option {
	return func(c *Coordinator) { c.postFlush = append(c.postFlush, closers...) }
}

// WithStoppers stops auxiliary loops (resource monitor) during shutdown.
func WithStoppers(s ...Stopper) Option {
	return func(c *Coordinator) { c.stoppers = append(c.stoppers, s...) }
}

func withExit(fn func(int)) Option {
	return func(c *Coordinator) { c.exit = fn }
}

func New(log *zap.Logger, conn Closer, workers []Closer, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:     log,
		conn:    conn,
		workers: workers,
		exit:    os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Setup registers the SIGTERM/SIGINT handlers and returns the coordinator.
func Setup(log *zap.Logger, conn Closer, workers []Closer, opts ...Option) *Coordinator {
	c := New(log, conn, workers, opts...)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for sig := range ch {
			c.HandleSignal(sig)
		}
	}()
	return c
}

// HandleSignal runs the close sequence. A second signal arriving mid-shutdown
// is observed and dropped; it can never start a concurrent sequence.
func (c *Coordinator) HandleSignal(sig os.Signal) {
	ran := false
	c.once.Do(func() {
		ran = true
		c.run(sig)
	})
	if !ran {
		c.log.Warn("shutdown already in progress", zap.String("signal", sig.String()))
	}
}

func (c *Coordinator) run(sig os.Signal) {
	c.log.Info("shutting down", zap.String("signal", sig.String()))

	failed := false
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				c.log.Error("shutdown panic", zap.Any("panic", rec))
				failed = true
			}
		}()

		if c.cleanup != nil {
			c.cleanup()
		}

		for _, w := range c.workers {
			if err := w.Close(); err != nil {
				c.log.Error("worker close failed", zap.Error(err))
				failed = true
			}
		}

		for _, s := range c.stoppers {
			s.Stop()
		}

		if c.pending != nil {
			if !c.pending.WaitTimeout(c.flushTimeout) {
				c.log.Warn("pending writes not flushed before timeout")
			}
		}

		for _, pc := range c.postFlush {
			if err := pc.Close(); err != nil {
				c.log.Error("post-flush close failed", zap.Error(err))
				failed = true
			}
		}

		if c.conn != nil {
			if err := c.conn.Close(); err != nil {
				c.log.Error("connection close failed", zap.Error(err))
				failed = true
			}
		}
	}()

	if failed {
		c.exit(1)
		return
	}
	c.log.Info("shutdown complete")
	c.exit(0)
}
