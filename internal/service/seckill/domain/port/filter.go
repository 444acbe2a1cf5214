package port

import (
	"context"

	"flashbuy/internal/service/seckill/domain"
)

// AdmissionFilter 是进程内的"已售罄"标记缓存，按 (活动, SKU) 记录。
// 它只是建议：误判为"未售罄"总是安全的（会落到 Redis），
// 补货后的误判"已售罄"最多持续一个 TTL。
type AdmissionFilter interface {
	MarkEmpty(item domain.ItemRef)
	IsEmpty(item domain.ItemRef) bool
	ClearEmpty(item domain.ItemRef)
}

// FilterBroadcaster 通知所有准入节点清除某个商品的售罄标记。
type FilterBroadcaster interface {
	BroadcastClear(ctx context.Context, item domain.ItemRef) error
}
