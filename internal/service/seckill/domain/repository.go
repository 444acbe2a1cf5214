// internal/service/seckill/domain/repository.go
package domain

import (
	"context"
	"time"
)

// OrderRepository 定义了订单的持久化接口，由基础设施层实现。
type OrderRepository interface {
	// CreateIfAbsent 按幂等键插入订单；已存在时返回已有订单且 created 为 false。
	CreateIfAbsent(ctx context.Context, order *Order) (stored *Order, created bool, err error)

	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
}

// FlashItemRepository 是活动目录的只读视图（外加清理标记）。
type FlashItemRepository interface {
	FindByEventAndSku(ctx context.Context, eventID, skuID int64) (*FlashItem, error)

	ListByEvent(ctx context.Context, eventID int64) ([]*FlashItem, error)

	// ListEndedBefore 返回结束时间早于 t 且尚未清理的条目
	ListEndedBefore(ctx context.Context, t time.Time, limit int) ([]*FlashItem, error)

	MarkTornDown(ctx context.Context, id uint, at time.Time) error
}

type DeadLetterRepository interface {
	Save(ctx context.Context, letter *DeadLetter) error
}
