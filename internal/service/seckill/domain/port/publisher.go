package port

import (
	"context"

	"flashbuy/internal/service/seckill/domain"
)

// OrderIntentPublisher 把下单意图交给持久化消息通道。
// 返回 nil 必须意味着消息已被通道确认持久化。
type OrderIntentPublisher interface {
	Publish(ctx context.Context, intent *domain.OrderIntent) error
}
