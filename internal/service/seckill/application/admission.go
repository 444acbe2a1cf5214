// internal/service/seckill/application/admission.go
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashbuy/internal/pkg/logger"
	"flashbuy/internal/service/seckill/domain"
	"flashbuy/internal/service/seckill/domain/port"
)

const (
	compensationTimeout    = 2 * time.Second
	compensationMaxRetries = 3
)

type AdmissionConfig struct {
	LedgerTimeout  time.Duration
	PublishTimeout time.Duration
	// MaxQuantity 是单次请求允许购买的最大件数
	MaxQuantity int
}

// AdmissionService 是秒杀准入链路：本地售罄过滤 -> 原子扣减 -> 投递下单意图。
// 热路径上只访问 Redis 和 Kafka，不访问数据库，也不持有任何进程内锁。
type AdmissionService struct {
	filter    port.AdmissionFilter
	ledger    port.StockLedger
	publisher port.OrderIntentPublisher
	results   port.ResultStore
	tracer    trace.Tracer
	metrics   *Metrics
	cfg       AdmissionConfig

	newToken func() string
	now      func() time.Time
}

func NewAdmissionService(
	filter port.AdmissionFilter,
	ledger port.StockLedger,
	publisher port.OrderIntentPublisher,
	results port.ResultStore,
	tracer trace.Tracer,
	metrics *Metrics,
	cfg AdmissionConfig,
) *AdmissionService {
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = 1
	}
	return &AdmissionService{
		filter:    filter,
		ledger:    ledger,
		publisher: publisher,
		results:   results,
		tracer:    tracer,
		metrics:   metrics,
		cfg:       cfg,
		newToken:  func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

// Admit 处理一次秒杀请求。
// 业务拒绝（售罄、重复购买等）以 AdmissionResult 返回且 error 为 nil；
// 只有基础设施故障才返回 error，此时结果固定为 SYSTEM_BUSY。
func (s *AdmissionService) Admit(ctx context.Context, req *SeckillRequest) (AdmissionResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Admit")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("seckill.event.id", req.EventID),
		attribute.Int64("seckill.sku.id", req.SkuID),
		attribute.Int64("user.id", req.UserID),
	)

	result, err := s.admit(ctx, span, req)
	s.metrics.incAdmission(result.Outcome())
	span.SetAttributes(attribute.String("seckill.outcome", result.Outcome()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "admission failed on infrastructure")
	}
	return result, err
}

func (s *AdmissionService) admit(ctx context.Context, span trace.Span, req *SeckillRequest) (AdmissionResult, error) {
	if reason, ok := s.normalize(req); !ok {
		logger.Ctx(ctx).Debug().Str("reason", string(reason)).Interface("request", req).Msg("seckill request rejected by validation")
		return rejected(reason), nil
	}

	// 1. 本地售罄标记命中，直接拒绝，不访问 Redis
	item := domain.ItemRef{EventID: req.EventID, SkuID: req.SkuID}
	if s.filter.IsEmpty(item) {
		span.AddEvent("Short-circuited by local sold-out mark.")
		return rejected(domain.ReasonSaleEnded), nil
	}

	// 2. 原子扣减。超时后结果未知，既不重试也不补偿
	keys := domain.KeysFor(req.EventID, req.SkuID)
	ledgerCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	start := time.Now()
	outcome, err := s.ledger.Deduct(ledgerCtx, keys, req.UserID, req.Quantity)
	cancel()
	if err != nil {
		s.metrics.observeLedger("error", time.Since(start))
		logger.Ctx(ctx).Error().Err(err).Int64("sku_id", req.SkuID).Int64("user_id", req.UserID).Msg("ledger deduct failed")
		return rejected(domain.ReasonSystemBusy), fmt.Errorf("deduct stock: %w", err)
	}
	s.metrics.observeLedger(outcome.Status.String(), time.Since(start))

	switch outcome.Status {
	case port.DeductInsufficientStock:
		s.filter.MarkEmpty(item)
		span.AddEvent("Stock exhausted, local sold-out mark set.")
		return rejected(domain.ReasonSoldOut), nil
	case port.DeductLimitExceeded:
		return rejected(domain.ReasonAlreadyPurchased), nil
	}
	span.AddEvent("Stock deducted.", trace.WithAttributes(attribute.Int64("seckill.stock.remaining", outcome.Remaining)))

	// 3. 投递下单意图。凭证先登记为 QUEUED，消费端稍后覆盖为最终结果
	token := s.newToken()
	intent := domain.NewOrderIntent(token, req.UserID, req.EventID, req.SkuID, req.Quantity, s.now())
	if err := s.results.MarkQueued(ctx, token); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("queue_id", token).Msg("failed to record queued result, continuing")
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	err = s.publisher.Publish(publishCtx, intent)
	cancel()
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("queue_id", token).Msg("failed to publish order intent, compensating")
		if s.compensate(ctx, intent) {
			return queued(token), nil
		}
		return rejected(domain.ReasonSystemBusy), fmt.Errorf("publish order intent: %w", err)
	}

	logger.Ctx(ctx).Info().
		Str("queue_id", token).
		Int64("sku_id", req.SkuID).
		Int64("user_id", req.UserID).
		Int64("remaining", outcome.Remaining).
		Msg("order intent queued")
	return queued(token), nil
}

// normalize 校验请求，并把缺省的数量补为 1
func (s *AdmissionService) normalize(req *SeckillRequest) (domain.RejectReason, bool) {
	if req.EventID <= 0 || req.SkuID <= 0 || req.UserID <= 0 || req.Quantity < 0 {
		return domain.ReasonInvalidRequest, false
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity > s.cfg.MaxQuantity {
		return domain.ReasonOverQuantity, false
	}
	return "", true
}

// compensate 归还已扣减的库存并移除限购标记，返回 true 表示消费端已经认领了这条意图。
// Release 以意图的认领 Key 为凭证，重复执行不会多加库存，所以可以放心重试。
func (s *AdmissionService) compensate(ctx context.Context, intent *domain.OrderIntent) bool {
	// 客户端断开不能中断补偿
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	outcome, err := backoff.RetryWithData(func() (port.ReleaseOutcome, error) {
		return s.ledger.Release(ctx, intent.Keys(), intent.ClaimKey(), intent.UserID, intent.Quantity)
	}, backoff.WithContext(backoff.WithMaxRetries(b, compensationMaxRetries), ctx))
	if err != nil {
		s.metrics.incCompensation("failed")
		logger.Ctx(ctx).Error().Err(err).
			Str("queue_id", intent.RequestID).
			Str("idempotency_key", intent.IdempotencyKey()).
			Int("quantity", intent.Quantity).
			Msg("🚨 CRITICAL: stock compensation failed, manual reconciliation required")
		return false
	}
	s.metrics.incCompensation(outcome.String())

	// 发布超时但消息已送达，订单会被创建，凭证继续有效
	if outcome == port.ReleaseMaterialized {
		logger.Ctx(ctx).Warn().Str("queue_id", intent.RequestID).
			Msg("publish reported failure but intent was already claimed, keeping the purchase")
		return true
	}

	if err := s.results.Forget(ctx, intent.RequestID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("queue_id", intent.RequestID).Msg("failed to forget queued result")
	}
	return false
}

// QueryResult 返回轮询凭证对应的处理结果，凭证不存在时返回 domain.ErrResultNotFound
func (s *AdmissionService) QueryResult(ctx context.Context, token string) (*domain.PurchaseResult, error) {
	return s.results.Get(ctx, token)
}
