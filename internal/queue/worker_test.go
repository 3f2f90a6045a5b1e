package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSampleRingBoundedByWindow(t *testing.T) {
	require := require.New(t)
	ring := newSampleRing(3)

	for i := 1; i <= 10; i++ {
		ring.record(time.Duration(i) * time.Second)
	}

	processed, avg := ring.snapshot()
	require.Equal(uint64(10), processed)
	// only the last three samples (8s, 9s, 10s) remain in the window
	require.Equal(9*time.Second, avg)
}

func TestSampleRingEmptySnapshot(t *testing.T) {
	processed, avg := newSampleRing(MetricsWindow).snapshot()
	require.Equal(t, uint64(0), processed)
	require.Equal(t, time.Duration(0), avg)
}

func TestWorkerSamplesSizedFromOptions(t *testing.T) {
	require := require.New(t)
	conn := &Connection{rdb: r.NewClient(&r.Options{Addr: "127.0.0.1:1"})}
	opts := MakeWorkerOptions("default", 2, mapProvider{})

	w := NewWorker(conn, "default", NewMux(), opts, zap.NewNop())
	require.Len(w.samples.buf, opts.MetricsWindow)
}

func TestDeliveryCleanupFailureIsLogged(t *testing.T) {
	require := require.New(t)
	core, logs := observer.New(zap.WarnLevel)

	// unroutable address: every command on the cleanup path errors out
	conn := &Connection{rdb: r.NewClient(&r.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 10 * time.Millisecond,
		MaxRetries:  -1,
	})}
	opts := MakeWorkerOptions("default", 1, mapProvider{})

	mux := NewMux()
	w := NewWorker(conn, "default", mux, opts, zap.New(core))

	env := envelope{ID: "job-1", Name: "SYNC", MaxAttempts: 1}
	raw, err := json.Marshal(env)
	require.NoError(err)

	w.process(context.Background(), string(raw))

	require.NotEmpty(logs.FilterMessage("active list removal failed").All())
	require.NotEmpty(logs.FilterMessage("lock release failed").All())
}
