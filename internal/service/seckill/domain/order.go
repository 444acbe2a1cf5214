// internal/service/seckill/domain/order.go
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Order 是物化后的秒杀订单
type Order struct {
	ID             int64
	IdempotencyKey string
	RequestID      string
	UserID         int64
	EventID        int64
	SkuID          int64
	Quantity       int
	TotalAmount    decimal.Decimal
	PayAmount      decimal.Decimal
	State          State
	OrderType      string
	AcceptedAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOrder 根据下单意图和活动商品创建订单，价格以活动目录为准而不是消息体。
func NewOrder(id int64, intent *OrderIntent, item *FlashItem, now time.Time) (*Order, error) {
	if intent.EventID != item.EventID || intent.SkuID != item.SkuID {
		return nil, errors.New("order intent does not match flash item")
	}
	amount := item.AmountFor(intent.Quantity)
	return &Order{
		ID:             id,
		IdempotencyKey: intent.IdempotencyKey(),
		RequestID:      intent.RequestID,
		UserID:         intent.UserID,
		EventID:        intent.EventID,
		SkuID:          intent.SkuID,
		Quantity:       intent.Quantity,
		TotalAmount:    amount,
		PayAmount:      amount,
		State:          StateAwaitingPayment,
		OrderType:      OrderTypeFlash,
		AcceptedAt:     time.UnixMilli(intent.AcceptedAt),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
