package queue

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

// Connection owns the shared transport client for a process. One connection
// is created per process and closed by the shutdown coordinator.
type Connection struct {
	rdb *r.Client
}

type ConnConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewConnection(ctx context.Context, cfg ConnConfig) (*Connection, error) {
	rdb := r.NewClient(&r.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 2 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Connection{rdb: rdb}, nil
}

func (c *Connection) Client() *r.Client { return c.rdb }

func (c *Connection) Close() error { return c.rdb.Close() }

// MemoryInfo returns the store's self-reported used and max memory in
// human-readable form, best-effort.
func (c *Connection) MemoryInfo(ctx context.Context) (used, max string, err error) {
	info, err := c.rdb.Info(ctx, "memory").Result()
	if err != nil {
		return "", "", errors.Wrap(err, "redis info")
	}
	for _, line := range strings.Split(info, "\r\n") {
		if v, ok := strings.CutPrefix(line, "used_memory_human:"); ok {
			used = v
		}
		if v, ok := strings.CutPrefix(line, "maxmemory_human:"); ok {
			max = v
		}
	}
	return used, max, nil
}
