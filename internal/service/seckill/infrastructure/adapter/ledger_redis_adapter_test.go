package adapter

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashbuy/internal/pkg/redis"
	"flashbuy/internal/service/seckill/domain"
	"flashbuy/internal/service/seckill/domain/port"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return mr, redis.Wrap(c)
}

func newTestLedger(t *testing.T, markTTL time.Duration) (*miniredis.Miniredis, *LedgerRedisAdapter) {
	t.Helper()
	mr, client := newTestRedis(t)
	ledger, err := NewLedgerRedisAdapter(client, markTTL)
	require.NoError(t, err)
	return mr, ledger
}

func stockOf(t *testing.T, mr *miniredis.Miniredis, stockKey string) int64 {
	t.Helper()
	raw, err := mr.Get(stockKey)
	require.NoError(t, err)
	n, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)
	return n
}

func isMarked(t *testing.T, mr *miniredis.Miniredis, keys domain.LedgerKeys, userID int64) bool {
	t.Helper()
	if !mr.Exists(keys.LimitKey) {
		return false
	}
	ok, err := mr.SIsMember(keys.LimitKey, strconv.FormatInt(userID, 10))
	require.NoError(t, err)
	return ok
}

func TestLedgerDeductOutcomes(t *testing.T) {
	ctx := context.Background()
	mr, ledger := newTestLedger(t, 0)
	keys := domain.KeysFor(7, 1001)

	require.NoError(t, ledger.Init(ctx, keys.StockKey, 2))

	out, err := ledger.Deduct(ctx, keys, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, port.DeductSuccess, out.Status)
	assert.Equal(t, int64(1), out.Remaining)

	out, err = ledger.Deduct(ctx, keys, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, port.DeductLimitExceeded, out.Status)
	assert.Equal(t, int64(1), stockOf(t, mr, keys.StockKey), "a rejected duplicate must not touch stock")

	out, err = ledger.Deduct(ctx, keys, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, port.DeductSuccess, out.Status)
	assert.Equal(t, int64(0), out.Remaining)

	out, err = ledger.Deduct(ctx, keys, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, port.DeductInsufficientStock, out.Status)

	assert.False(t, isMarked(t, mr, keys, 3), "insufficient stock must not record a purchase mark")
}

func TestLedgerDeductWithoutWarmUpIsInsufficient(t *testing.T) {
	_, ledger := newTestLedger(t, 0)

	out, err := ledger.Deduct(context.Background(), domain.KeysFor(1, 42), 9, 1)
	require.NoError(t, err)
	assert.Equal(t, port.DeductInsufficientStock, out.Status)
}

func TestLedgerMultiQuantity(t *testing.T) {
	ctx := context.Background()
	mr, ledger := newTestLedger(t, 0)
	keys := domain.KeysFor(7, 1002)
	require.NoError(t, ledger.Init(ctx, keys.StockKey, 3))

	out, err := ledger.Deduct(ctx, keys, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, port.DeductSuccess, out.Status)
	assert.Equal(t, int64(1), out.Remaining)

	// 剩余 1 件，购买 2 件不足，且不会扣成负数
	out, err = ledger.Deduct(ctx, keys, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, port.DeductInsufficientStock, out.Status)
	assert.Equal(t, int64(1), stockOf(t, mr, keys.StockKey))
}

func TestLedgerMarkTTLIsSetOnFirstWrite(t *testing.T) {
	ctx := context.Background()
	mr, ledger := newTestLedger(t, time.Hour)
	keys := domain.KeysFor(7, 1003)
	require.NoError(t, ledger.Init(ctx, keys.StockKey, 5))

	_, err := ledger.Deduct(ctx, keys, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(keys.LimitKey))

	mr.FastForward(10 * time.Minute)
	_, err = ledger.Deduct(ctx, keys, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Minute, mr.TTL(keys.LimitKey), "later purchases must not extend the mark TTL")
}

func TestLedgerNoOversellUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	mr, ledger := newTestLedger(t, 0)
	keys := domain.KeysFor(7, 2001)
	const stock = 5
	require.NoError(t, ledger.Init(ctx, keys.StockKey, stock))

	var successes atomic.Int64
	var wg sync.WaitGroup
	for u := int64(1); u <= 200; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			out, err := ledger.Deduct(ctx, keys, userID, 1)
			if err == nil && out.Status == port.DeductSuccess {
				successes.Add(1)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, int64(stock), successes.Load())
	assert.Equal(t, int64(0), stockOf(t, mr, keys.StockKey))
}

func TestLedgerSameUserConcurrentOnlyOnce(t *testing.T) {
	ctx := context.Background()
	_, ledger := newTestLedger(t, 0)
	keys := domain.KeysFor(7, 2002)
	require.NoError(t, ledger.Init(ctx, keys.StockKey, 100))

	var successes atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := ledger.Deduct(ctx, keys, 77, 1)
			if err == nil && out.Status == port.DeductSuccess {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes.Load())
}

func TestLedgerReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mr, ledger := newTestLedger(t, 0)
	keys := domain.KeysFor(7, 3001)
	require.NoError(t, ledger.Init(ctx, keys.StockKey, 5))

	_, err := ledger.Deduct(ctx, keys, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stockOf(t, mr, keys.StockKey))

	claimKey := domain.ClaimKey(3001, "req-1")
	outcome, err := ledger.Release(ctx, keys, claimKey, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, port.ReleaseRestored, outcome)
	assert.Equal(t, int64(5), stockOf(t, mr, keys.StockKey))

	outcome, err = ledger.Release(ctx, keys, claimKey, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, port.ReleaseNoop, outcome)
	assert.Equal(t, int64(5), stockOf(t, mr, keys.StockKey), "second release must not add stock")

	// 补偿后用户可以重新购买
	out, err := ledger.Deduct(ctx, keys, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, port.DeductSuccess, out.Status)
}

func TestLedgerCompensationKeepsBalance(t *testing.T) {
	ctx := context.Background()
	mr, ledger := newTestLedger(t, 0)
	keys := domain.KeysFor(7, 3002)
	const stock = 5
	require.NoError(t, ledger.Init(ctx, keys.StockKey, stock))

	var wg sync.WaitGroup
	var kept atomic.Int64
	for u := int64(1); u <= 40; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			out, err := ledger.Deduct(ctx, keys, userID, 1)
			if err != nil || out.Status != port.DeductSuccess {
				return
			}
			// 偶数用户模拟发布失败后的补偿
			if userID%2 == 0 {
				_, _ = ledger.Release(ctx, keys, domain.ClaimKey(3002, strconv.FormatInt(userID, 10)), userID, 1)
				return
			}
			kept.Add(1)
		}(u)
	}
	wg.Wait()

	assert.Equal(t, int64(stock), kept.Load()+stockOf(t, mr, keys.StockKey))
}

func TestLedgerRecoverAndClear(t *testing.T) {
	ctx := context.Background()
	mr, ledger := newTestLedger(t, 0)
	keys := domain.KeysFor(7, 4001)
	require.NoError(t, ledger.Init(ctx, keys.StockKey, 1))

	_, err := ledger.Deduct(ctx, keys, 1, 1)
	require.NoError(t, err)
	require.NoError(t, ledger.Recover(ctx, keys.StockKey, 1))
	assert.Equal(t, int64(1), stockOf(t, mr, keys.StockKey))

	require.NoError(t, ledger.Clear(ctx, keys))
	assert.False(t, mr.Exists(keys.StockKey))
	assert.False(t, mr.Exists(keys.LimitKey))
}

func TestLedgerInitRejectsNegative(t *testing.T) {
	_, ledger := newTestLedger(t, 0)
	assert.Error(t, ledger.Init(context.Background(), domain.StockKey(7, 1), -1))
}

func TestLedgerEventsSharingSkuAreIndependent(t *testing.T) {
	mr, ledger := newTestLedger(t, 0)
	ctx := context.Background()
	ended := domain.KeysFor(7, 1001)
	live := domain.KeysFor(8, 1001)

	require.NoError(t, ledger.Init(ctx, ended.StockKey, 2))
	require.NoError(t, ledger.Init(ctx, live.StockKey, 5))

	out, err := ledger.Deduct(ctx, ended, 42, 1)
	require.NoError(t, err)
	require.Equal(t, port.DeductSuccess, out.Status)

	// 同一用户在另一场活动里仍可购买
	out, err = ledger.Deduct(ctx, live, 42, 1)
	require.NoError(t, err)
	require.Equal(t, port.DeductSuccess, out.Status)
	assert.Equal(t, int64(4), out.Remaining)

	require.NoError(t, ledger.Clear(ctx, ended))
	assert.False(t, mr.Exists(ended.StockKey))
	assert.False(t, mr.Exists(ended.LimitKey))
	assert.Equal(t, int64(4), stockOf(t, mr, live.StockKey))

	assert.True(t, isMarked(t, mr, live, 42))
}

func TestLedgerReleaseAfterClaimKeepsStock(t *testing.T) {
	ctx := context.Background()
	mr, ledger := newTestLedger(t, 0)
	keys := domain.KeysFor(7, 5001)
	claimKey := domain.ClaimKey(5001, "req-late")
	require.NoError(t, ledger.Init(ctx, keys.StockKey, 3))

	_, err := ledger.Deduct(ctx, keys, 1, 1)
	require.NoError(t, err)

	// 发布超时但消息其实已经送达，消费端先认领
	claimed, err := ledger.Claim(ctx, claimKey)
	require.NoError(t, err)
	require.True(t, claimed)

	outcome, err := ledger.Release(ctx, keys, claimKey, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, port.ReleaseMaterialized, outcome)
	assert.Equal(t, int64(2), stockOf(t, mr, keys.StockKey), "a claimed intent must not give its unit back")
	assert.True(t, isMarked(t, mr, keys, 1))

	// 重复投递仍然归消费端
	claimed, err = ledger.Claim(ctx, claimKey)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestLedgerClaimAfterReleaseIsRefused(t *testing.T) {
	ctx := context.Background()
	mr, ledger := newTestLedger(t, 0)
	keys := domain.KeysFor(7, 5002)
	claimKey := domain.ClaimKey(5002, "req-lost")
	require.NoError(t, ledger.Init(ctx, keys.StockKey, 3))

	_, err := ledger.Deduct(ctx, keys, 1, 1)
	require.NoError(t, err)
	outcome, err := ledger.Release(ctx, keys, claimKey, 1, 1)
	require.NoError(t, err)
	require.Equal(t, port.ReleaseRestored, outcome)

	claimed, err := ledger.Claim(ctx, claimKey)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(3), stockOf(t, mr, keys.StockKey))
	assert.Equal(t, defaultClaimTTL, mr.TTL(claimKey))
}

func TestLedgerRetriedReleaseKeepsNewerPurchase(t *testing.T) {
	ctx := context.Background()
	mr, ledger := newTestLedger(t, time.Hour)
	keys := domain.KeysFor(7, 5003)
	first := domain.ClaimKey(5003, "req-first")
	require.NoError(t, ledger.Init(ctx, keys.StockKey, 3))

	_, err := ledger.Deduct(ctx, keys, 1, 1)
	require.NoError(t, err)
	outcome, err := ledger.Release(ctx, keys, first, 1, 1)
	require.NoError(t, err)
	require.Equal(t, port.ReleaseRestored, outcome)
	assert.Equal(t, time.Hour, mr.TTL(first))

	// 用户重新购买后，旧意图的补偿被重试
	out, err := ledger.Deduct(ctx, keys, 1, 1)
	require.NoError(t, err)
	require.Equal(t, port.DeductSuccess, out.Status)

	outcome, err = ledger.Release(ctx, keys, first, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, port.ReleaseNoop, outcome)
	assert.True(t, isMarked(t, mr, keys, 1))
	assert.Equal(t, int64(2), stockOf(t, mr, keys.StockKey))
}
