package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-inventory/internal/service/inventory/domain"
)

func TestCompensateExpiredRestoresExactlyOnce(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "SKU-1", 10)
	for _, order := range []string{"O1", "O2", "O3"} {
		_, err := f.svc.Reserve(ctx, ReserveRequest{OrderID: order, SKU: "SKU-1", Quantity: 2, TTLSeconds: 60})
		require.NoError(t, err)
	}
	require.Equal(t, int64(4), f.stock(t, "SKU-1"))

	f.elapse(61 * time.Second)
	// key 过期本身不会归还库存
	assert.Equal(t, int64(4), f.stock(t, "SKU-1"))

	// BatchSize 为 2，三条记录需要两批
	report, err := f.sweeper.CompensateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Compensated)
	assert.Equal(t, int64(6), report.Restored)
	assert.Equal(t, int64(10), f.stock(t, "SKU-1"))

	report, err = f.sweeper.CompensateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, CompensationReport{}, report)
	assert.Equal(t, int64(10), f.stock(t, "SKU-1"))

	assert.Contains(t, f.observer.states(), domain.StateExpired)
}

func TestCompensateExpiredSkipsLiveHolds(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "SKU-1", 10)
	_, err := f.svc.Reserve(ctx, ReserveRequest{OrderID: "O1", SKU: "SKU-1", Quantity: 3, TTLSeconds: 60})
	require.NoError(t, err)

	// 只推进业务时钟：索引认为已到期，但 key 仍然存在
	f.clock.Advance(2 * time.Minute)

	report, err := f.sweeper.CompensateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Alive)
	assert.Equal(t, 0, report.Compensated)
	assert.Equal(t, int64(7), f.stock(t, "SKU-1"))

	commit, err := f.svc.Commit(ctx, HoldRequest{OrderID: "O1", SKU: "SKU-1"})
	require.NoError(t, err)
	assert.True(t, commit.Committed)
}

func TestCompensateExpiredPagesPastLiveHolds(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "SKU-1", 10)
	for _, order := range []string{"O1", "O2", "O3"} {
		_, err := f.svc.Reserve(ctx, ReserveRequest{OrderID: order, SKU: "SKU-1", Quantity: 1, TTLSeconds: 60})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	// 索引里排在最前面的两条仍然存活，只有 O3 的 key 已经消失
	f.mr.Del("reservation:O3:SKU-1")
	f.clock.Advance(2 * time.Minute)

	report, err := f.sweeper.CompensateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, CompensationReport{Scanned: 3, Compensated: 1, Restored: 1, Alive: 2}, report)
	assert.Equal(t, int64(8), f.stock(t, "SKU-1"))

	report, err = f.sweeper.CompensateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, CompensationReport{Scanned: 2, Alive: 2}, report)
	assert.Equal(t, int64(8), f.stock(t, "SKU-1"))
}

func TestCommitAfterExpiryIsRejectedAndStockReturns(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "SKU-1", 10)
	_, err := f.svc.Reserve(ctx, ReserveRequest{OrderID: "O1", SKU: "SKU-1", Quantity: 3, TTLSeconds: 60})
	require.NoError(t, err)

	f.elapse(61 * time.Second)
	commit, err := f.svc.Commit(ctx, HoldRequest{OrderID: "O1", SKU: "SKU-1"})
	require.NoError(t, err)
	assert.False(t, commit.Committed)
	assert.Equal(t, int64(10), f.stock(t, "SKU-1"))

	report, err := f.sweeper.CompensateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Compensated)
	assert.Equal(t, int64(10), f.stock(t, "SKU-1"))
}

func TestReconcileCorrectsDriftAndAudits(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "SKU-1", 10)
	f.seed(t, "SKU-2", 4)
	_, err := f.svc.Reserve(ctx, ReserveRequest{OrderID: "O1", SKU: "SKU-1", Quantity: 2})
	require.NoError(t, err)

	// 模拟缓存漂移
	require.NoError(t, f.ledger.SetStock(ctx, "SKU-1", 5))

	report, err := f.sweeper.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Discrepancies)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, int64(8), f.stock(t, "SKU-1"))
	assert.Equal(t, int64(4), f.stock(t, "SKU-2"))

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, "SKU-1", events[0].SKU)
	assert.Equal(t, int64(5), events[0].Old)
	assert.Equal(t, int64(8), events[0].New)
	assert.Equal(t, int64(3), events[0].Delta)
	assert.Equal(t, int64(2), events[0].Held)
	assert.Equal(t, report.RunID, events[0].RunID)

	audits, err := f.sweeper.Discrepancies(ctx, "SKU-1", 10)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, events[0].EventID, audits[0].EventID)

	report, err = f.sweeper.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Discrepancies)
}

func TestReconcileFlushesPendingSalesFirst(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "SKU-1", 10)
	_, err := f.svc.Reserve(ctx, ReserveRequest{OrderID: "O1", SKU: "SKU-1", Quantity: 3})
	require.NoError(t, err)

	f.variants.failSales.Store(true)
	_, err = f.svc.Commit(ctx, HoldRequest{OrderID: "O1", SKU: "SKU-1"})
	require.NoError(t, err)
	f.variants.failSales.Store(false)
	require.Equal(t, int64(10), f.persisted(t, "SKU-1"))

	report, err := f.sweeper.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sales.Persisted)
	assert.Equal(t, 0, report.Discrepancies, "fast stock already reflects the sale")
	assert.Equal(t, int64(7), f.persisted(t, "SKU-1"))
	assert.Equal(t, int64(7), f.stock(t, "SKU-1"))
}

func TestReconcileCountsUnsyncedSalesWhileDatabaseIsDown(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "SKU-1", 10)
	_, err := f.svc.Reserve(ctx, ReserveRequest{OrderID: "O1", SKU: "SKU-1", Quantity: 3})
	require.NoError(t, err)

	f.variants.failSales.Store(true)
	_, err = f.svc.Commit(ctx, HoldRequest{OrderID: "O1", SKU: "SKU-1"})
	require.NoError(t, err)

	report, err := f.sweeper.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sales.Failed)
	assert.Equal(t, 0, report.Discrepancies)
	assert.Equal(t, int64(7), f.stock(t, "SKU-1"))
}

func TestReconcileRacingCommitDoesNotResell(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "SKU-1", 10)
	_, err := f.svc.Reserve(ctx, ReserveRequest{OrderID: "O1", SKU: "SKU-1", Quantity: 3})
	require.NoError(t, err)

	// 对账读完数据库之后，确认和写库在修正缓存之前完成
	f.variants.afterStockRead = func() {
		commit, err := f.svc.Commit(ctx, HoldRequest{OrderID: "O1", SKU: "SKU-1"})
		require.NoError(t, err)
		require.True(t, commit.Committed)
	}

	report, err := f.sweeper.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Discrepancies)
	assert.Equal(t, int64(7), f.stock(t, "SKU-1"))
	assert.Equal(t, int64(7), f.persisted(t, "SKU-1"))
	assert.Empty(t, f.events.all())

	// 下一轮读到的已是新库存
	report, err = f.sweeper.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Discrepancies)
	assert.Equal(t, int64(7), f.stock(t, "SKU-1"))
}

func TestTriggerReconcileSkipsWhenLocked(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	release, ok, err := f.locker.TryAcquire(ctx, reconcileJob, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.sweeper.TriggerReconcile(ctx)
	assert.ErrorIs(t, err, ErrJobInProgress)

	require.NoError(t, release(ctx))
	_, err = f.sweeper.TriggerReconcile(ctx)
	assert.NoError(t, err)
}

func TestRunCompensatesOnTick(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "SKU-1", 5)
	_, err := f.svc.Reserve(ctx, ReserveRequest{OrderID: "O1", SKU: "SKU-1", Quantity: 5, TTLSeconds: 30})
	require.NoError(t, err)
	f.elapse(time.Minute)

	f.sweeper.settings.ExpiryInterval = 10 * time.Millisecond
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- f.sweeper.Run(runCtx) }()

	assert.Eventually(t, func() bool {
		n, err := f.ledger.GetStock(ctx, "SKU-1")
		return err == nil && n == 5
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
