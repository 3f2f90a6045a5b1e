package queue

import "time"

const (
	// LockSafetyMargin is added on top of a queue's declared timeout so a
	// still-running job is never mistaken for stalled and redelivered.
	LockSafetyMargin = 30 * time.Second

	// StalledInterval is the fixed cadence of stall detection, tuned to the
	// cost of scanning the active list.
	StalledInterval = 30 * time.Second

	// MetricsWindow bounds the number of throughput samples kept per queue.
	MetricsWindow = 60
)

// WorkerOptions are the derived execution parameters for one queue's pool.
// They are never authored directly; use MakeWorkerOptions.
type WorkerOptions struct {
	Concurrency     int
	LockDuration    time.Duration
	StalledInterval time.Duration
	MetricsWindow   int
}

// TimeoutProvider looks up the configured maximum handler runtime per queue.
type TimeoutProvider interface {
	QueueTimeout(queue string) time.Duration
}

// MakeWorkerOptions derives safe per-queue options from the queue's declared
// timeout. Pure apart from the provider lookup; it invents no timeout of its
// own.
func MakeWorkerOptions(queueName string, concurrency int, provider TimeoutProvider) WorkerOptions {
	if concurrency <= 0 {
		concurrency = 1
	}
	return WorkerOptions{
		Concurrency:     concurrency,
		LockDuration:    provider.QueueTimeout(queueName) + LockSafetyMargin,
		StalledInterval: StalledInterval,
		MetricsWindow:   MetricsWindow,
	}
}
