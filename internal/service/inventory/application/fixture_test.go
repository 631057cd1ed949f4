package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nexus-inventory/internal/pkg/redis"
	"nexus-inventory/internal/service/inventory/domain"
	"nexus-inventory/internal/service/inventory/infrastructure"
	"nexus-inventory/internal/service/inventory/infrastructure/adapter"
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

// flakyVariants 在 failSales 为 true 时让写库失败，模拟确认之后数据库不可用。
// afterStockRead 在下一次 StocksBySKU 返回之前执行一次，用来插入并发写入
type flakyVariants struct {
	domain.VariantRepository
	failSales      atomic.Bool
	afterStockRead func()
}

func (f *flakyVariants) StocksBySKU(ctx context.Context, skus []string) (map[string]int64, error) {
	stocks, err := f.VariantRepository.StocksBySKU(ctx, skus)
	if hook := f.afterStockRead; hook != nil {
		f.afterStockRead = nil
		hook()
	}
	return stocks, err
}

func (f *flakyVariants) RecordSale(ctx context.Context, sale domain.Sale) (bool, error) {
	if f.failSales.Load() {
		return false, errors.New("mysql: connection refused")
	}
	return f.VariantRepository.RecordSale(ctx, sale)
}

type capturedEvents struct {
	mu     sync.Mutex
	events []domain.StockDiscrepancyDetected
}

func (c *capturedEvents) PublishDiscrepancy(_ context.Context, event domain.StockDiscrepancyDetected) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturedEvents) all() []domain.StockDiscrepancyDetected {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.StockDiscrepancyDetected(nil), c.events...)
}

type recordingObserver struct {
	mu      sync.Mutex
	changes []domain.StockChanged
}

func (o *recordingObserver) StockChanged(_ context.Context, change domain.StockChanged) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, change)
}

func (o *recordingObserver) states() []domain.ReservationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.ReservationState, 0, len(o.changes))
	for _, c := range o.changes {
		out = append(out, c.State)
	}
	return out
}

type fixture struct {
	mr        *miniredis.Miniredis
	clock     *fakeClock
	engine    *adapter.RedisReservationEngine
	ledger    *adapter.RedisStockLedger
	variants  *flakyVariants
	audits    *infrastructure.GormAuditRepository
	locker    *adapter.RedisLocker
	events    *capturedEvents
	observer  *recordingObserver
	sales     *SaleRecorder
	svc       *ReservationService
	sweeper   *Sweeper
	settings  Settings
	sweepConf SweeperSettings
}

func newFixture(t *testing.T, policyExpr string) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.Wrap(rdb)

	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine, err := adapter.NewRedisReservationEngine(client, adapter.WithClock(clock.Now))
	require.NoError(t, err)
	locker, err := adapter.NewRedisLocker(client)
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, infrastructure.AutoMigrate(db))

	policy, err := NewPolicy(policyExpr)
	require.NoError(t, err)

	f := &fixture{
		mr:        mr,
		clock:     clock,
		engine:    engine,
		ledger:    adapter.NewRedisStockLedger(client),
		variants:  &flakyVariants{VariantRepository: infrastructure.NewGormVariantRepository(db)},
		audits:    infrastructure.NewGormAuditRepository(db),
		locker:    locker,
		events:    &capturedEvents{},
		observer:  &recordingObserver{},
		settings:  Settings{DefaultTTL: 15 * time.Minute, MaxTTL: time.Hour},
		sweepConf: SweeperSettings{BatchSize: 2, LockTTL: time.Minute},
	}
	tracer := noop.NewTracerProvider().Tracer("test")
	observers := domain.StockObservers{f.observer}

	f.sales = NewSaleRecorder(engine, f.variants, nil)
	f.svc = NewReservationService(engine, f.ledger, adapter.NewRedisReservationStore(client, adapter.WithClock(clock.Now)),
		engine, f.variants, f.sales, policy, observers, nil, tracer, f.settings)
	f.svc.now = clock.Now
	f.sweeper = NewSweeper(engine, engine, f.variants, f.audits, f.events, f.sales, locker, observers, nil, tracer, f.sweepConf)
	f.sweeper.now = clock.Now
	return f
}

// elapse 同时推进业务时钟和 redis 的 TTL
func (f *fixture) elapse(d time.Duration) {
	f.clock.Advance(d)
	f.mr.FastForward(d)
}

func (f *fixture) seed(t *testing.T, sku string, qty int64) {
	t.Helper()
	_, err := f.svc.SeedStock(context.Background(), SeedStockRequest{SKU: sku, Quantity: qty})
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, sku string) int64 {
	t.Helper()
	n, err := f.ledger.GetStock(context.Background(), sku)
	require.NoError(t, err)
	return n
}

func (f *fixture) persisted(t *testing.T, sku string) int64 {
	t.Helper()
	v, err := f.variants.FindBySKU(context.Background(), sku)
	require.NoError(t, err)
	return v.Stock
}
