// internal/service/seckill/domain/event.go
package domain

import (
	"fmt"
	"time"
)

// OrderIntent 是扣减成功后投递到消息通道的"请创建订单"命令。
// 每次成功扣减只产生一条，消费端至少一次送达，必须幂等处理。
type OrderIntent struct {
	// RequestID 由发布方分配，同时作为前端轮询结果的凭证
	RequestID  string `json:"requestId"`
	UserID     int64  `json:"userId"`
	EventID    int64  `json:"eventId"`
	SkuID      int64  `json:"skuId"`
	Quantity   int    `json:"quantity"`
	AcceptedAt int64  `json:"acceptedAt"` // unix 毫秒
}

func NewOrderIntent(requestID string, userID, eventID, skuID int64, quantity int, acceptedAt time.Time) *OrderIntent {
	return &OrderIntent{
		RequestID:  requestID,
		UserID:     userID,
		EventID:    eventID,
		SkuID:      skuID,
		Quantity:   quantity,
		AcceptedAt: acceptedAt.UnixMilli(),
	}
}

// IdempotencyKey 同一用户在同一场活动中对同一 SKU 只能成功一次，因此三元组即可唯一确定一个订单。
func (i *OrderIntent) IdempotencyKey() string {
	return IdempotencyKey(i.EventID, i.SkuID, i.UserID)
}

func (i *OrderIntent) Keys() LedgerKeys {
	return KeysFor(i.EventID, i.SkuID)
}

func (i *OrderIntent) ClaimKey() string {
	return ClaimKey(i.SkuID, i.RequestID)
}

func (i *OrderIntent) Validate() error {
	if i.UserID <= 0 || i.EventID <= 0 || i.SkuID <= 0 || i.Quantity <= 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidIntent, *i)
	}
	return nil
}

func IdempotencyKey(eventID, skuID, userID int64) string {
	return fmt.Sprintf("%d:%d:%d", eventID, skuID, userID)
}
