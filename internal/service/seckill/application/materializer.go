// internal/service/seckill/application/materializer.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashbuy/internal/pkg/logger"
	"flashbuy/internal/service/seckill/domain"
	"flashbuy/internal/service/seckill/domain/port"
)

// Materializer 把下单意图落成持久化订单。
// 消息至少送达一次，同一意图可能被处理多次，幂等由订单表上的唯一幂等键保证。
type Materializer struct {
	items   domain.FlashItemRepository
	orders  domain.OrderRepository
	ledger  port.StockLedger
	results port.ResultStore
	idNode  *snowflake.Node
	tracer  trace.Tracer
	metrics *Metrics
	now     func() time.Time
}

func NewMaterializer(
	items domain.FlashItemRepository,
	orders domain.OrderRepository,
	ledger port.StockLedger,
	results port.ResultStore,
	idNode *snowflake.Node,
	tracer trace.Tracer,
	metrics *Metrics,
) *Materializer {
	return &Materializer{
		items:   items,
		orders:  orders,
		ledger:  ledger,
		results: results,
		idNode:  idNode,
		tracer:  tracer,
		metrics: metrics,
		now:     time.Now,
	}
}

// HandleOrderIntent 处理一条下单意图。返回 error 时消息会被重试；
// 被 ErrPermanent 包装的错误会直接进入死信。
func (m *Materializer) HandleOrderIntent(ctx context.Context, intent *domain.OrderIntent) error {
	ctx, span := m.tracer.Start(ctx, "app.HandleOrderIntent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("seckill.queue.id", intent.RequestID),
		attribute.String("seckill.idempotency_key", intent.IdempotencyKey()),
	)

	result, err := m.materialize(ctx, intent)
	if err != nil {
		result = "failed"
		if IsPermanent(err) {
			result = "rejected"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to materialize order")
	}
	m.metrics.incMaterialized(result)
	return err
}

func (m *Materializer) materialize(ctx context.Context, intent *domain.OrderIntent) (string, error) {
	if err := intent.Validate(); err != nil {
		return "", permanent(err)
	}

	// 重复投递：订单已存在，只需补写结果
	existing, err := m.orders.FindByIdempotencyKey(ctx, intent.IdempotencyKey())
	switch {
	case err == nil:
		m.markSuccess(ctx, intent.RequestID, existing)
		logger.Ctx(ctx).Info().Int64("order_id", existing.ID).Str("queue_id", intent.RequestID).Msg("duplicate order intent acknowledged")
		return "duplicate", nil
	case !errors.Is(err, domain.ErrOrderNotFound):
		return "", fmt.Errorf("lookup order: %w", err)
	}

	// 价格以活动目录为准，不信任消息体
	item, err := m.items.FindByEventAndSku(ctx, intent.EventID, intent.SkuID)
	if err != nil {
		if errors.Is(err, domain.ErrFlashItemNotFound) {
			return "", permanent(err)
		}
		return "", fmt.Errorf("load flash item: %w", err)
	}

	// 与准入端的补偿互斥，谁先认领谁生效
	claimed, err := m.ledger.Claim(ctx, intent.ClaimKey())
	if err != nil {
		return "", fmt.Errorf("claim order intent: %w", err)
	}
	if !claimed {
		logger.Ctx(ctx).Warn().Str("queue_id", intent.RequestID).Str("idempotency_key", intent.IdempotencyKey()).
			Msg("order intent was compensated at admission, skipping")
		if err := m.results.MarkFailed(ctx, intent.RequestID, domain.FailureCompensated); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("queue_id", intent.RequestID).Msg("failed to record compensated result")
		}
		return "compensated", nil
	}

	order, err := domain.NewOrder(m.idNode.Generate().Int64(), intent, item, m.now())
	if err != nil {
		return "", permanent(err)
	}

	stored, created, err := m.orders.CreateIfAbsent(ctx, order)
	if err != nil {
		return "", fmt.Errorf("save order: %w", err)
	}
	m.markSuccess(ctx, intent.RequestID, stored)

	if !created {
		return "duplicate", nil
	}
	logger.Ctx(ctx).Info().
		Int64("order_id", stored.ID).
		Str("queue_id", intent.RequestID).
		Str("amount", stored.PayAmount.StringFixed(2)).
		Msg("SUCCESS: flash order materialized, awaiting payment")
	return "created", nil
}

// markSuccess 结果写入失败不影响订单，前端最多多轮询几次
func (m *Materializer) markSuccess(ctx context.Context, token string, order *domain.Order) {
	if err := m.results.MarkSuccess(ctx, token, strconv.FormatInt(order.ID, 10)); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("queue_id", token).Msg("failed to record order result")
	}
}
