package domain

import "fmt"

// LedgerKeys 是一次扣减涉及的两个 Redis Key。
// 两个 Key 都带 {skuId} hash tag，保证在集群模式下落在同一个 slot，Lua 脚本才能原子执行。
type LedgerKeys struct {
	StockKey string
	LimitKey string
}

// StockKey 某场活动某个 SKU 的库存计数器，例如 flash:stock:7:{1001}。
// 同一个 SKU 可以出现在多场活动中，每场活动的配额互不影响。
func StockKey(eventID, skuID int64) string {
	return fmt.Sprintf("flash:stock:%d:{%d}", eventID, skuID)
}

// LimitKey 某场活动某个 SKU 的已购用户集合，例如 flash:user:7:{1001}
func LimitKey(eventID, skuID int64) string {
	return fmt.Sprintf("flash:user:%d:{%d}", eventID, skuID)
}

// ClaimKey 记录一条下单意图归属的 Key，例如 flash:claim:<requestId>:{1001}。
// 补偿与建单各自尝试写入，先写入的一方生效。
func ClaimKey(skuID int64, requestID string) string {
	return fmt.Sprintf("flash:claim:%s:{%d}", requestID, skuID)
}

func KeysFor(eventID, skuID int64) LedgerKeys {
	return LedgerKeys{
		StockKey: StockKey(eventID, skuID),
		LimitKey: LimitKey(eventID, skuID),
	}
}

// ItemRef 标识一场活动中的一个 SKU，是售罄标记和预热的粒度
type ItemRef struct {
	EventID int64
	SkuID   int64
}

func (r ItemRef) String() string {
	return fmt.Sprintf("%d:%d", r.EventID, r.SkuID)
}
