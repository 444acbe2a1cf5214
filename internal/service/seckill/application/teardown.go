package application

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"flashbuy/internal/pkg/logger"
	"flashbuy/internal/service/seckill/domain"
	"flashbuy/internal/service/seckill/domain/port"
)

const teardownBatchSize = 100

// TeardownJob 在活动结束一段时间后删除账本中的库存和限购标记。
// 集群中同一时刻只有拿到 JobLock 的节点执行。
type TeardownJob struct {
	items    domain.FlashItemRepository
	ledger   port.StockLedger
	lock     port.JobLock
	lockName string
	grace    time.Duration
	metrics  *Metrics
	now      func() time.Time

	cron *cron.Cron
}

func NewTeardownJob(items domain.FlashItemRepository, ledger port.StockLedger, lock port.JobLock, lockName string, grace time.Duration, metrics *Metrics) *TeardownJob {
	return &TeardownJob{
		items:    items,
		ledger:   ledger,
		lock:     lock,
		lockName: lockName,
		grace:    grace,
		metrics:  metrics,
		now:      time.Now,
	}
}

// RunOnce 执行一轮清理，返回清理的商品数。没拿到锁时返回 0, nil。
func (j *TeardownJob) RunOnce(ctx context.Context) (int, error) {
	unlock, ok, err := j.lock.TryLock(ctx, j.lockName)
	if err != nil {
		return 0, fmt.Errorf("acquire teardown lock: %w", err)
	}
	if !ok {
		logger.Ctx(ctx).Debug().Str("lock", j.lockName).Msg("teardown lock held by another node, skipping")
		return 0, nil
	}
	defer unlock()

	items, err := j.items.ListEndedBefore(ctx, j.now().Add(-j.grace), teardownBatchSize)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, item := range items {
		if err := j.ledger.Clear(ctx, item.Keys()); err != nil {
			logger.Ctx(ctx).Error().Err(err).Int64("event_id", item.EventID).Int64("sku_id", item.SkuID).Msg("failed to clear ledger keys")
			continue
		}
		if err := j.items.MarkTornDown(ctx, item.ID, j.now()); err != nil {
			// 下一轮会再次清理，Clear 可重复执行
			logger.Ctx(ctx).Error().Err(err).Uint("item_id", item.ID).Msg("failed to mark flash item torn down")
			continue
		}
		cleaned++
	}

	j.metrics.addTornDown(cleaned)
	if cleaned > 0 {
		logger.Ctx(ctx).Info().Int("cleaned", cleaned).Msg("flash items torn down")
	}
	return cleaned, nil
}

// Start 按 cron 表达式（如 "@every 1m"）周期执行 RunOnce
func (j *TeardownJob) Start(ctx context.Context, schedule string) error {
	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("teardown run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid teardown schedule %q: %w", schedule, err)
	}
	j.cron.Start()
	logger.Ctx(ctx).Info().Str("schedule", schedule).Msg("✅ Teardown job started.")
	return nil
}

// Stop 等待正在执行的一轮结束
func (j *TeardownJob) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}
	select {
	case <-j.cron.Stop().Done():
		logger.Ctx(ctx).Info().Msg("✅ Teardown job stopped.")
	case <-ctx.Done():
		logger.Ctx(ctx).Warn().Msg("teardown job did not stop in time")
	}
}
