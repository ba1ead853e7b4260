package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/repository"
)

func newCache(t *testing.T) (*repository.CacheRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return repository.NewCacheRepository(rdb), mr
}

func TestCacheRepository_Preferences(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newCache(t)

	_, ok, err := c.GetPreferences(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok, "empty cache is a miss")

	prefs := entity.DefaultPreferences("42")
	prefs.ReferralRegisteredEnabled = false
	stored, err := c.SavePreferences(ctx, prefs)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists("notify:prefs:42"))

	got, ok, err := c.GetPreferences(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, prefs, got)

	require.NoError(t, c.InvalidatePreferences(ctx, "42"))
	_, ok, err = c.GetPreferences(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheRepository_Expires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newCache(t)

	_, err := c.SavePreferences(ctx, entity.DefaultPreferences("7"))
	require.NoError(t, err)
	mr.FastForward(6 * time.Minute)

	_, ok, err := c.GetPreferences(ctx, "7")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheRepository_OlderVersionDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newCache(t)

	updatedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	fresh := entity.DefaultPreferences("7")
	fresh.PurchaseEnabled = false
	fresh.UpdatedAt = updatedAt
	stored, err := c.SavePreferences(ctx, fresh)
	require.NoError(t, err)
	require.True(t, stored)

	tests := []struct {
		name  string
		prefs entity.Preferences
	}{
		{name: "synthesized defaults", prefs: entity.DefaultPreferences("7")},
		{name: "earlier row", prefs: func() entity.Preferences {
			p := entity.DefaultPreferences("7")
			p.UpdatedAt = updatedAt.Add(-time.Second)
			return p
		}()},
	}
	for _, tt := range tests {
		stored, err = c.SavePreferences(ctx, tt.prefs)
		require.NoError(t, err, tt.name)
		assert.False(t, stored, tt.name)
	}

	got, ok, err := c.GetPreferences(ctx, "7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.PurchaseEnabled)

	newer := fresh
	newer.PurchaseEnabled = true
	newer.UpdatedAt = updatedAt.Add(time.Second)
	stored, err = c.SavePreferences(ctx, newer)
	require.NoError(t, err)
	assert.True(t, stored)

	got, _, err = c.GetPreferences(ctx, "7")
	require.NoError(t, err)
	assert.True(t, got.PurchaseEnabled)
}

func TestCacheRepository_CorruptEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newCache(t)
	mr.HSet("notify:prefs:9", "version", "1", "data", "{not json")

	_, ok, err := c.GetPreferences(ctx, "9")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCacheRepository_Unavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newCache(t)
	mr.Close()

	_, _, err := c.GetPreferences(ctx, "42")
	assert.Error(t, err)
}
