package port

import (
	"context"

	"flashbuy/internal/service/seckill/domain"
)

// ResultStore 保存轮询凭证对应的处理结果。
type ResultStore interface {
	// MarkQueued 仅在凭证不存在时写入 QUEUED，不会覆盖消费端已经写入的结果。
	MarkQueued(ctx context.Context, token string) error
	MarkSuccess(ctx context.Context, token, orderID string) error
	MarkFailed(ctx context.Context, token, reason string) error
	Forget(ctx context.Context, token string) error
	// Get 凭证不存在时返回 domain.ErrResultNotFound
	Get(ctx context.Context, token string) (*domain.PurchaseResult, error)
}
