package cache

import (
	"context"
	"database/sql"
	"delivery-dashboard/internal/domain"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openSqlite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InitSchema(context.Background(), db, SQLite))
	return db
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	db := openSqlite(t)
	require.NoError(t, InitSchema(context.Background(), db, SQLite))
	require.Error(t, InitSchema(context.Background(), nil, SQLite))
}

func TestSqliteSampleCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewSQLSampleCache(openSqlite(t), SQLite)
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, c.PutSamples(ctx, "m1", []domain.TelemetrySample{
		{Index: 1, Value: -10, Timestamp: ts},
		{Index: 2, Value: -8, Aux: map[string]float64{"epsilon": 0.9}},
		{Index: 3, Value: -5},
	}))
	// Existing indexes keep their first value.
	require.NoError(t, c.PutSamples(ctx, "m1", []domain.TelemetrySample{{Index: 2, Value: 100}}))
	require.NoError(t, c.PutSamples(ctx, "other", []domain.TelemetrySample{{Index: 9, Value: 1}}))

	got, err := c.GetSamples(ctx, "m1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Index)
	assert.Equal(t, 2, got[1].Index)
	assert.InDelta(t, -8, got[1].Value, 1e-9)
	assert.InDelta(t, 0.9, got[1].Aux["epsilon"], 1e-9)

	all, err := c.GetSamples(ctx, "m1", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[2].Timestamp.Equal(ts))
	assert.True(t, all[0].Timestamp.IsZero())
}

func TestSampleCacheRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	c := NewSQLSampleCache(openSqlite(t), SQLite)

	require.Error(t, c.PutSamples(ctx, " ", []domain.TelemetrySample{{Index: 1}}))
	require.Error(t, c.PutSamples(ctx, "m1", []domain.TelemetrySample{{Index: -1}}))
	_, err := c.GetSamples(ctx, "", 10)
	require.Error(t, err)

	empty, err := c.GetSamples(ctx, "m1", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.Error(t, (&SQLSampleCache{}).PutSamples(ctx, "m1", nil))
}

func TestDialectPlaceholders(t *testing.T) {
	assert.Equal(t, "$2", Postgres.placeholder(2))
	assert.Equal(t, "?", SQLite.placeholder(2))
	assert.Equal(t, "postgres", NewSQLSampleCache(nil, Postgres).Dialect.String())
}

func newRedisCache(t *testing.T, ttl time.Duration) (*RedisEntityCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisEntityCache(client, "test", ttl), mr
}

func TestRedisEntityCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Minute)

	_, ok, err := c.GetEntities(ctx, domain.KindPoints)
	require.NoError(t, err)
	assert.False(t, ok)

	points := []domain.Entity{{ID: "P1", Attributes: map[string]any{"name": "Tienda", "lat": 4.6}}}
	require.NoError(t, c.PutEntities(ctx, domain.KindPoints, points))
	assert.True(t, mr.Exists("test:entities:points"))

	got, ok, err := c.GetEntities(ctx, domain.KindPoints)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "Tienda", got[0].Label())

	_, ok, err = c.GetEntities(ctx, domain.KindCarriers)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.GetEntities(ctx, domain.KindPoints)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisEntityCacheStoresEmptyList(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, 0)

	require.NoError(t, c.PutEntities(ctx, domain.KindCarriers, nil))
	got, ok, err := c.GetEntities(ctx, domain.KindCarriers)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
	require.NoError(t, c.Ping(ctx))
}

func TestRedisEntityCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Minute)
	mr.Close()

	_, _, err := c.GetEntities(ctx, domain.KindPoints)
	require.Error(t, err)
}
