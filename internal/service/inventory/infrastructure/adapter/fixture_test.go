package adapter

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"nexus-inventory/internal/pkg/redis"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	clock  *fakeClock
	engine *RedisReservationEngine
	ledger *RedisStockLedger
	store  *RedisReservationStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client := redis.Wrap(rdb)
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine, err := NewRedisReservationEngine(client, WithClock(clock.Now))
	require.NoError(t, err)

	return &fixture{
		mr:     mr,
		client: client,
		clock:  clock,
		engine: engine,
		ledger: NewRedisStockLedger(client),
		store:  NewRedisReservationStore(client, WithClock(clock.Now)),
	}
}

// elapse 同时推进业务时钟和 redis 的 TTL
func (f *fixture) elapse(d time.Duration) {
	f.clock.Advance(d)
	f.mr.FastForward(d)
}

func (f *fixture) counter(t *testing.T, key string) int64 {
	t.Helper()
	if !f.mr.Exists(key) {
		return 0
	}
	n, err := f.client.GetClient().Get(t.Context(), key).Int64()
	require.NoError(t, err)
	return n
}
