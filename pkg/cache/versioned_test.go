package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/formiq/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *Versioned) {
	t.Helper()
	logger.Discard()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewVersioned(rdb, "owner", time.Second)
}

type summary struct {
	Count int `json:"count"`
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "projects:v3:owner-1:list", Key("projects", 3, "owner-1", "list"))
}

func TestVersionDefaultsToOneAndBumpMovesPastIt(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	v, err := c.Version(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	bumped, err := c.Bump(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bumped)

	v, err = c.Version(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	other, err := c.Version(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other, "versions are per owner")
}

func TestFetchHitAndMiss(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (interface{}, error) {
		calls++
		return summary{Count: calls}, nil
	}

	var got summary
	status, err := c.Fetch(ctx, "k", time.Minute, &got, compute)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
	assert.Equal(t, 1, got.Count)

	got = summary{}
	status, err = c.Fetch(ctx, "k", time.Minute, &got, compute)
	require.NoError(t, err)
	assert.Equal(t, StatusHit, status)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, 1, calls)
}

func TestFetchDoesNotStoreComputeErrors(t *testing.T) {
	mr, c := newTestCache(t)
	boom := errors.New("db down")

	var got summary
	_, err := c.Fetch(context.Background(), "k", time.Minute, &got, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k"))
}

func TestBumpInvalidatesVersionedReads(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()
	count := 1
	compute := func(context.Context) (interface{}, error) { return summary{Count: count}, nil }

	var got summary
	status, err := c.FetchVersioned(ctx, "u1", "project", "p1", "detail", time.Minute, &got, compute)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
	assert.True(t, mr.Exists("project:v1:p1:detail"))

	status, err = c.FetchVersioned(ctx, "u1", "project", "p1", "detail", time.Minute, &got, compute)
	require.NoError(t, err)
	assert.Equal(t, StatusHit, status)

	count = 2
	_, err = c.Bump(ctx, "u1")
	require.NoError(t, err)

	status, err = c.FetchVersioned(ctx, "u1", "project", "p1", "detail", time.Minute, &got, compute)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
	assert.Equal(t, 2, got.Count)
	assert.True(t, mr.Exists("project:v2:p1:detail"))
	assert.True(t, mr.Exists("project:v1:p1:detail"), "orphaned entries expire on their own")
}

func TestEntriesCarryTTL(t *testing.T) {
	mr, c := newTestCache(t)
	require.NoError(t, c.Set(context.Background(), "k", summary{Count: 1}, 15*time.Minute))
	assert.Equal(t, 15*time.Minute, mr.TTL("k"))
}

func TestGetAndSet(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	var got summary
	assert.ErrorIs(t, c.Get(ctx, "missing", &got), ErrMiss)

	require.NoError(t, c.Set(ctx, "ticket:last:p1", summary{Count: 7}, time.Minute))
	require.NoError(t, c.Get(ctx, "ticket:last:p1", &got))
	assert.Equal(t, 7, got.Count)
}

func TestFetchDegradesWhenStoreIsDown(t *testing.T) {
	mr, c := newTestCache(t)
	mr.Close()

	var got summary
	status, err := c.FetchVersioned(context.Background(), "u1", "project", "p1", "detail", time.Minute, &got,
		func(context.Context) (interface{}, error) { return summary{Count: 4}, nil })
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
	assert.Equal(t, 4, got.Count)
}

func TestScopedKeepsSeparateCounters(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	projects := c.Scoped("project")
	v, err := projects.Bump(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.True(t, mr.Exists("project:version:p1"))

	owner, err := c.Version(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), owner)
}
