package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mapProvider map[string]time.Duration

func (m mapProvider) QueueTimeout(queue string) time.Duration {
	if d, ok := m[queue]; ok {
		return d
	}
	return 5 * time.Minute
}

func TestLockDurationExceedsQueueTimeout(t *testing.T) {
	require := require.New(t)
	provider := mapProvider{
		"default":   time.Minute,
		"reports":   20 * time.Minute,
		"contentai": time.Hour,
	}

	for _, q := range []string{"default", "reports", "contentai", "unconfigured"} {
		opts := MakeWorkerOptions(q, 4, provider)
		require.Greater(opts.LockDuration, provider.QueueTimeout(q), q)
		require.Equal(StalledInterval, opts.StalledInterval)
		require.Equal(MetricsWindow, opts.MetricsWindow)
	}
}

func TestConcurrencyClampedToOne(t *testing.T) {
	opts := MakeWorkerOptions("default", 0, mapProvider{})
	require.Equal(t, 1, opts.Concurrency)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	require := require.New(t)
	require.Equal(5*time.Second, backoff(1))
	require.Equal(10*time.Second, backoff(2))
	require.Equal(20*time.Second, backoff(3))
	require.Equal(backoffCap, backoff(12))
	require.Equal(5*time.Second, backoff(0))
}

func TestEnvelopeCarriesLedgerLink(t *testing.T) {
	require := require.New(t)
	env := envelope{
		ID:           "item-1",
		Name:         "SYNC",
		Data:         Payload{EntityID: "site-1", LedgerID: "rec-9"},
		AttemptsMade: 2,
		MaxAttempts:  3,
	}

	it := env.item("default")
	require.Equal("default", it.Queue)
	require.Equal("rec-9", it.Data.LedgerID)
	require.True(it.WillRetry())

	it.AttemptsMade = 3
	require.False(it.WillRetry())
}
