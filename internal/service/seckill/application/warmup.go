package application

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"flashbuy/internal/pkg/logger"
	"flashbuy/internal/service/seckill/domain"
	"flashbuy/internal/service/seckill/domain/port"
)

// WarmUpService 在活动开始前把库存写入账本，并让所有节点忘掉旧的售罄标记。
// 可以重复执行；不会清除用户的限购标记。
type WarmUpService struct {
	ledger      port.StockLedger
	filter      port.AdmissionFilter
	broadcaster port.FilterBroadcaster
	items       domain.FlashItemRepository
	concurrency int
	tracer      trace.Tracer
	metrics     *Metrics
}

func NewWarmUpService(
	ledger port.StockLedger,
	filter port.AdmissionFilter,
	broadcaster port.FilterBroadcaster,
	items domain.FlashItemRepository,
	concurrency int,
	tracer trace.Tracer,
	metrics *Metrics,
) *WarmUpService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &WarmUpService{
		ledger:      ledger,
		filter:      filter,
		broadcaster: broadcaster,
		items:       items,
		concurrency: concurrency,
		tracer:      tracer,
		metrics:     metrics,
	}
}

// WarmUp 覆盖写入某场活动中一个 SKU 的库存，然后清除本地与其它节点上的售罄标记。
// 只影响这一场活动，同一 SKU 在其它活动中的库存和标记保持不变。
// 广播失败只记录日志：其它节点的标记最多在一个 TTL 后自然过期。
func (s *WarmUpService) WarmUp(ctx context.Context, eventID, skuID, stock int64) error {
	ctx, span := s.tracer.Start(ctx, "app.WarmUp")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("seckill.event.id", eventID),
		attribute.Int64("seckill.sku.id", skuID),
		attribute.Int64("seckill.stock", stock),
	)

	if eventID <= 0 || skuID <= 0 {
		s.metrics.incWarmUp("failed")
		return fmt.Errorf("invalid event/sku id %d/%d", eventID, skuID)
	}
	item := domain.ItemRef{EventID: eventID, SkuID: skuID}
	if err := s.ledger.Init(ctx, domain.StockKey(eventID, skuID), stock); err != nil {
		s.metrics.incWarmUp("failed")
		span.RecordError(err)
		return fmt.Errorf("init stock of %s: %w", item, err)
	}
	s.filter.ClearEmpty(item)

	if s.broadcaster != nil {
		if err := s.broadcaster.BroadcastClear(ctx, item); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("event_id", eventID).Int64("sku_id", skuID).Msg("filter clear broadcast failed, other nodes recover after TTL")
		}
	}

	s.metrics.incWarmUp("succeeded")
	logger.Ctx(ctx).Info().Int64("event_id", eventID).Int64("sku_id", skuID).Int64("stock", stock).Msg("✅ SKU warmed up")
	return nil
}

// WarmUpEvent 并发预热一场活动下的全部商品，单个 SKU 的失败收集在报告中。
func (s *WarmUpService) WarmUpEvent(ctx context.Context, eventID int64) (*WarmUpReport, error) {
	items, err := s.items.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list items of event %d: %w", eventID, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("event %d: %w", eventID, domain.ErrFlashItemNotFound)
	}

	report := &WarmUpReport{EventID: eventID, Failed: make(map[int64]string)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, item := range items {
		g.Go(func() error {
			err := s.WarmUp(ctx, item.EventID, item.SkuID, item.FlashStock)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[item.SkuID] = err.Error()
			} else {
				report.Succeeded = append(report.Succeeded, item.SkuID)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Succeeded, func(i, j int) bool { return report.Succeeded[i] < report.Succeeded[j] })
	logger.Ctx(ctx).Info().
		Int64("event_id", eventID).
		Int("succeeded", len(report.Succeeded)).
		Int("failed", len(report.Failed)).
		Msg("event warm-up finished")
	return report, nil
}
