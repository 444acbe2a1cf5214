// internal/service/seckill/domain/flash_item.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FlashItem 是某场秒杀活动中的一个商品条目，对应持久化的活动目录。
// 热路径上从不读取它：预热时把 FlashStock 写入 Redis，建单时用 FlashPrice 计算金额。
type FlashItem struct {
	ID           uint
	EventID      int64
	SkuID        int64
	FlashPrice   decimal.Decimal
	FlashStock   int64
	LimitPerUser int
	StartTime    time.Time
	EndTime      time.Time
	TornDownAt   *time.Time
}

func (f *FlashItem) Keys() LedgerKeys {
	return KeysFor(f.EventID, f.SkuID)
}

func (f *FlashItem) Ref() ItemRef {
	return ItemRef{EventID: f.EventID, SkuID: f.SkuID}
}

// AmountFor 计算购买 quantity 件的应付金额
func (f *FlashItem) AmountFor(quantity int) decimal.Decimal {
	return f.FlashPrice.Mul(decimal.NewFromInt(int64(quantity)))
}
