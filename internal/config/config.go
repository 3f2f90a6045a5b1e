package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/you/jobcore/internal/domain"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	OpsAddr       string `env:"OPS_ADDR" envDefault:":9090"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	Queues      []string `env:"QUEUES" envDefault:"default"`
	Concurrency int      `env:"WORKER_CONCURRENCY" envDefault:"4"`
	MaxAttempts int      `env:"MAX_ATTEMPTS" envDefault:"3"`

	// QueueTimeouts maps queue name -> maximum handler runtime for that queue.
	// Queues without an entry fall back to DefaultQueueTimeout.
	QueueTimeouts       map[string]time.Duration `env:"QUEUE_TIMEOUTS" envKeyValSeparator:":" envSeparator:","`
	DefaultQueueTimeout time.Duration            `env:"DEFAULT_QUEUE_TIMEOUT" envDefault:"5m"`

	HeapWarnMB     uint64        `env:"HEAP_WARN_MB" envDefault:"500"`
	HeapCriticalMB uint64        `env:"HEAP_CRITICAL_MB" envDefault:"800"`
	HeapInterval   time.Duration `env:"HEAP_SAMPLE_INTERVAL" envDefault:"30s"`
	DepthInterval  time.Duration `env:"QUEUE_DEPTH_INTERVAL" envDefault:"60s"`
	StoreInterval  time.Duration `env:"STORE_MEMORY_INTERVAL" envDefault:"5m"`

	ErrorTextLimit       int           `env:"ERROR_TEXT_LIMIT" envDefault:"200"`
	ShutdownFlushTimeout time.Duration `env:"SHUTDOWN_FLUSH_TIMEOUT" envDefault:"10s"`

	// Schedules maps job type -> cron spec, consumed by cmd/scheduler.
	Schedules map[string]string `env:"SCHEDULES" envKeyValSeparator:"=" envSeparator:";"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}

// WorkerQueues returns the queues a worker process serves. The scheduled
// queue is always included so cron-triggered jobs are consumed even when
// QUEUES does not name it.
func (c Config) WorkerQueues() []string {
	for _, q := range c.Queues {
		if q == domain.ScheduledQueue {
			return c.Queues
		}
	}
	return append([]string{domain.ScheduledQueue}, c.Queues...)
}

// QueueTimeout reports the configured maximum handler runtime for a queue.
func (c Config) QueueTimeout(queue string) time.Duration {
	if d, ok := c.QueueTimeouts[queue]; ok {
		return d
	}
	return c.DefaultQueueTimeout
}
