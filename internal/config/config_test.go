package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/you/jobcore/internal/domain"
)

func TestWorkerQueuesAlwaysIncludesScheduled(t *testing.T) {
	require := require.New(t)

	c := Config{Queues: []string{"default", "reports"}}
	require.Equal([]string{domain.ScheduledQueue, "default", "reports"}, c.WorkerQueues())
}

func TestWorkerQueuesDoesNotDuplicateScheduled(t *testing.T) {
	require := require.New(t)

	c := Config{Queues: []string{"default", domain.ScheduledQueue}}
	require.Equal([]string{"default", domain.ScheduledQueue}, c.WorkerQueues())
}

func TestQueueTimeoutFallsBackToDefault(t *testing.T) {
	require := require.New(t)

	c := Config{
		QueueTimeouts:       map[string]time.Duration{"reports": 10 * time.Minute},
		DefaultQueueTimeout: 5 * time.Minute,
	}
	require.Equal(10*time.Minute, c.QueueTimeout("reports"))
	require.Equal(5*time.Minute, c.QueueTimeout("default"))
}
