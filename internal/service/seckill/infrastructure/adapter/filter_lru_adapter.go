package adapter

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"flashbuy/internal/service/seckill/domain"
)

const (
	defaultFilterCapacity = 10000
	defaultFilterTTL      = time.Minute
)

// FilterLRUAdapter 是 port.AdmissionFilter 的进程内实现：容量受限、写入后定时过期。
// 每个节点各自维护，不做跨节点同步。
type FilterLRUAdapter struct {
	cache *expirable.LRU[domain.ItemRef, struct{}]
}

func NewFilterLRUAdapter(capacity int, ttl time.Duration) *FilterLRUAdapter {
	if capacity <= 0 {
		capacity = defaultFilterCapacity
	}
	if ttl <= 0 {
		ttl = defaultFilterTTL
	}
	return &FilterLRUAdapter{
		cache: expirable.NewLRU[domain.ItemRef, struct{}](capacity, nil, ttl),
	}
}

func (f *FilterLRUAdapter) MarkEmpty(item domain.ItemRef) {
	f.cache.Add(item, struct{}{})
}

func (f *FilterLRUAdapter) IsEmpty(item domain.ItemRef) bool {
	_, ok := f.cache.Get(item)
	return ok
}

func (f *FilterLRUAdapter) ClearEmpty(item domain.ItemRef) {
	f.cache.Remove(item)
}
