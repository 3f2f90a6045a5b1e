package dedup_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/dedup"
)

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) Del(_ context.Context, keys ...string) *r.IntCmd {
	if f.err != nil {
		return r.NewIntResult(0, f.err)
	}
	f.deleted = append(f.deleted, keys...)
	return r.NewIntResult(int64(len(keys)), nil)
}

func TestReleaseDeletesKey(t *testing.T) {
	require := require.New(t)
	del := &fakeDeleter{}
	keys := dedup.New(del, zap.NewNop())

	keys.Release(context.Background(), "site-1", "SYNC")

	require.Equal([]string{"dedup:site-1:SYNC"}, del.deleted)
}

func TestBroadcastEntityNeverTouchesStore(t *testing.T) {
	require := require.New(t)
	del := &fakeDeleter{}
	keys := dedup.New(del, zap.NewNop())

	keys.Release(context.Background(), "all", "REPORT")
	keys.ResetStuckCount(context.Background(), "all", "REPORT")
	keys.Release(context.Background(), "", "REPORT")

	require.Empty(del.deleted)
}

func TestDeleteFailureSwallowed(t *testing.T) {
	del := &fakeDeleter{err: errors.New("read-only replica")}
	keys := dedup.New(del, zap.NewNop())

	require.NotPanics(t, func() {
		keys.Release(context.Background(), "site-1", "SYNC")
	})
}

func TestResetStuckCountDeletesCounter(t *testing.T) {
	require := require.New(t)
	del := &fakeDeleter{}
	keys := dedup.New(del, zap.NewNop())

	keys.ResetStuckCount(context.Background(), "site-1", "SYNC")

	require.Equal([]string{"stuck:site-1:SYNC"}, del.deleted)
}
