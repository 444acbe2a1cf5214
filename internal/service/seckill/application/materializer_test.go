package application

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashbuy/internal/service/seckill/domain"
	"flashbuy/internal/service/seckill/domain/port"
)

type materializerFixture struct {
	m       *Materializer
	items   *fakeItems
	orders  *fakeOrders
	ledger  *fakeLedger
	results *fakeResults
	metrics *Metrics
}

func newMaterializerFixture(t *testing.T) *materializerFixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &materializerFixture{
		items: &fakeItems{items: []*domain.FlashItem{{
			ID:           1,
			EventID:      testEvent,
			SkuID:        testSku,
			FlashPrice:   decimal.RequireFromString("19.90"),
			FlashStock:   5,
			LimitPerUser: 1,
			EndTime:      time.Now().Add(time.Hour),
		}}},
		orders:  newFakeOrders(),
		ledger:  newFakeLedger(),
		results: newFakeResults(),
		metrics: MustNewMetrics(prometheus.NewRegistry()),
	}
	f.m = NewMaterializer(f.items, f.orders, f.ledger, f.results, node, testTracer, f.metrics)
	return f
}

// admitted 模拟准入端已经成功扣减（限购标记存在）
func (f *materializerFixture) admitted(t *testing.T, userID int64, quantity int) *domain.OrderIntent {
	t.Helper()
	keys := domain.KeysFor(testEvent, testSku)
	require.NoError(t, f.ledger.Init(context.Background(), keys.StockKey, 5))
	_, err := f.ledger.Deduct(context.Background(), keys, userID, quantity)
	require.NoError(t, err)
	return domain.NewOrderIntent("req-"+strconv.FormatInt(userID, 10), userID, testEvent, testSku, quantity, time.Now())
}

func TestMaterializeCreatesOrderWithCatalogPrice(t *testing.T) {
	f := newMaterializerFixture(t)
	intent := f.admitted(t, 42, 2)

	require.NoError(t, f.m.HandleOrderIntent(context.Background(), intent))

	order, err := f.orders.FindByIdempotencyKey(context.Background(), intent.IdempotencyKey())
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingPayment, order.State)
	assert.Equal(t, domain.OrderTypeFlash, order.OrderType)
	assert.True(t, decimal.RequireFromString("39.80").Equal(order.PayAmount))
	assert.NotZero(t, order.ID)

	res, err := f.results.Get(context.Background(), intent.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccess, res.Status)
	assert.Equal(t, strconv.FormatInt(order.ID, 10), res.OrderID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.materialized.WithLabelValues("created")))
}

func TestMaterializeIsIdempotentUnderRedelivery(t *testing.T) {
	f := newMaterializerFixture(t)
	intent := f.admitted(t, 42, 1)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dup := *intent
			assert.NoError(t, f.m.HandleOrderIntent(context.Background(), &dup))
		}()
	}
	wg.Wait()
	require.NoError(t, f.m.HandleOrderIntent(context.Background(), intent))

	assert.Equal(t, 1, f.orders.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.materialized.WithLabelValues("created")))
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.materialized.WithLabelValues("duplicate")))
}

func TestMaterializeUnknownItemIsPermanent(t *testing.T) {
	f := newMaterializerFixture(t)
	intent := f.admitted(t, 42, 1)
	intent.SkuID = 999

	err := f.m.HandleOrderIntent(context.Background(), intent)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrFlashItemNotFound)
	assert.Zero(t, f.orders.count())
}

func TestMaterializeInvalidIntentIsPermanent(t *testing.T) {
	f := newMaterializerFixture(t)

	err := f.m.HandleOrderIntent(context.Background(), &domain.OrderIntent{RequestID: "x"})
	assert.True(t, IsPermanent(err))
}

func TestMaterializeStoreFailureIsRetryable(t *testing.T) {
	f := newMaterializerFixture(t)
	intent := f.admitted(t, 42, 1)
	f.orders.findErr = errors.New("mysql: too many connections")

	err := f.m.HandleOrderIntent(context.Background(), intent)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestMaterializeSkipsCompensatedIntent(t *testing.T) {
	ctx := context.Background()
	f := newMaterializerFixture(t)
	intent := f.admitted(t, 42, 1)

	outcome, err := f.ledger.Release(ctx, intent.Keys(), intent.ClaimKey(), intent.UserID, intent.Quantity)
	require.NoError(t, err)
	require.Equal(t, port.ReleaseRestored, outcome)

	require.NoError(t, f.m.HandleOrderIntent(ctx, intent))
	assert.Zero(t, f.orders.count())

	res, err := f.results.Get(ctx, intent.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultFailed, res.Status)
	assert.Equal(t, domain.FailureCompensated, res.Reason)
}

func TestMaterializeTrustsIntentAfterTeardown(t *testing.T) {
	ctx := context.Background()
	f := newMaterializerFixture(t)
	intent := f.admitted(t, 42, 1)

	torn := time.Now()
	f.items.items[0].TornDownAt = &torn
	require.NoError(t, f.ledger.Clear(ctx, intent.Keys()))

	require.NoError(t, f.m.HandleOrderIntent(ctx, intent))
	assert.Equal(t, 1, f.orders.count())
}

func TestMaterializeKeepsOrderWhenCompensationArrivesLate(t *testing.T) {
	ctx := context.Background()
	f := newMaterializerFixture(t)
	intent := f.admitted(t, 42, 1)

	require.NoError(t, f.m.HandleOrderIntent(ctx, intent))
	require.Equal(t, 1, f.orders.count())

	// 发布端超时后才开始补偿，此时订单已经建好
	outcome, err := f.ledger.Release(ctx, intent.Keys(), intent.ClaimKey(), intent.UserID, intent.Quantity)
	require.NoError(t, err)
	assert.Equal(t, port.ReleaseMaterialized, outcome)
	assert.Equal(t, int64(4), f.ledger.stockOf(testEvent, testSku))
	assert.True(t, f.ledger.hasMark(intent.Keys(), intent.UserID))

	require.NoError(t, f.m.HandleOrderIntent(ctx, intent))
	assert.Equal(t, 1, f.orders.count())
}

func TestMaterializeClaimFailureIsRetryable(t *testing.T) {
	f := newMaterializerFixture(t)
	intent := f.admitted(t, 42, 1)
	f.ledger.claimErr = errors.New("redis: i/o timeout")

	err := f.m.HandleOrderIntent(context.Background(), intent)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
	assert.Zero(t, f.orders.count())
}
