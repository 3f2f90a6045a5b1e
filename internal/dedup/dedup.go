// Package dedup releases the per-(entity, job-type) exclusivity markers
// created by enqueuing callers. Keys are only ever deleted here on terminal
// outcomes; their own TTL is the backstop for everything else.
package dedup

import (
	"context"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/domain"
)

func key(entityID, jobType string) string {
	return "dedup:" + entityID + ":" + jobType
}

func stuckKey(entityID, jobType string) string {
	return "stuck:" + entityID + ":" + jobType
}

// Deleter is the single command the controller needs from the key store.
type Deleter interface {
	Del(ctx context.Context, keys ...string) *r.IntCmd
}

type Keys struct {
	rdb Deleter
	log *zap.Logger
}

func New(rdb Deleter, log *zap.Logger) *Keys {
	return &Keys{rdb: rdb, log: log}
}

// Release deletes the dedup key for (entityID, jobType). Broadcast jobs
// (entity "all") never touch the key store. Delete failures are swallowed;
// the key expires on its own.
func (k *Keys) Release(ctx context.Context, entityID, jobType string) {
	if entityID == "" || entityID == domain.BroadcastEntity {
		return
	}
	if err := k.rdb.Del(ctx, key(entityID, jobType)).Err(); err != nil {
		k.log.Warn("dedup key release failed",
			zap.String("entityId", entityID),
			zap.String("jobType", jobType),
			zap.Error(err),
		)
	}
}

// ResetStuckCount clears the consecutive-failure counter for the pair.
// Best-effort, same swallowing policy as Release.
func (k *Keys) ResetStuckCount(ctx context.Context, entityID, jobType string) {
	if entityID == "" || entityID == domain.BroadcastEntity {
		return
	}
	if err := k.rdb.Del(ctx, stuckKey(entityID, jobType)).Err(); err != nil {
		k.log.Warn("stuck count reset failed",
			zap.String("entityId", entityID),
			zap.String("jobType", jobType),
			zap.Error(err),
		)
	}
}
