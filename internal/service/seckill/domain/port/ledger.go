package port

import (
	"context"
	"fmt"

	"flashbuy/internal/service/seckill/domain"
)

// 扣减脚本返回的哨兵值，>= 0 表示扣减成功后的剩余库存
const (
	SentinelInsufficientStock int64 = -1
	SentinelLimitExceeded     int64 = -2
)

// DeductStatus 是原子扣减的三种结果
type DeductStatus int

const (
	DeductSuccess DeductStatus = iota + 1
	DeductInsufficientStock
	DeductLimitExceeded
)

func (s DeductStatus) String() string {
	switch s {
	case DeductSuccess:
		return "success"
	case DeductInsufficientStock:
		return "insufficient_stock"
	case DeductLimitExceeded:
		return "limit_exceeded"
	default:
		return "unknown"
	}
}

type DeductOutcome struct {
	Status    DeductStatus
	Remaining int64 // 仅在 DeductSuccess 时有意义
}

// OutcomeFromSentinel 将脚本返回值翻译为 DeductOutcome。
func OutcomeFromSentinel(v int64) (DeductOutcome, error) {
	switch {
	case v >= 0:
		return DeductOutcome{Status: DeductSuccess, Remaining: v}, nil
	case v == SentinelInsufficientStock:
		return DeductOutcome{Status: DeductInsufficientStock}, nil
	case v == SentinelLimitExceeded:
		return DeductOutcome{Status: DeductLimitExceeded}, nil
	default:
		return DeductOutcome{}, fmt.Errorf("unknown result code from deduct script: %d", v)
	}
}

// ReleaseOutcome 是一次补偿的结果
type ReleaseOutcome int

const (
	// ReleaseRestored 限购标记已移除，库存已归还
	ReleaseRestored ReleaseOutcome = iota + 1
	// ReleaseNoop 之前已经补偿过，或者标记已不存在
	ReleaseNoop
	// ReleaseMaterialized 消费端已经认领了这条意图，订单会被创建，库存不能归还
	ReleaseMaterialized
)

func (o ReleaseOutcome) String() string {
	switch o {
	case ReleaseRestored:
		return "released"
	case ReleaseNoop:
		return "noop"
	case ReleaseMaterialized:
		return "materialized"
	default:
		return "unknown"
	}
}

// StockLedger 是库存账本的出站端口，所有对库存和限购标记的修改只能经过它。
type StockLedger interface {
	// Deduct 原子地完成：库存检查 -> 限购检查 -> 扣减并记录限购标记。
	Deduct(ctx context.Context, keys domain.LedgerKeys, userID int64, quantity int) (DeductOutcome, error)

	// Init 预热时覆盖写入库存，可重复执行。
	Init(ctx context.Context, stockKey string, count int64) error

	// Recover 直接把 quantity 加回库存。
	Recover(ctx context.Context, stockKey string, quantity int) error

	// Release 是 Deduct 的补偿操作。它先以 claimKey 认领这条意图，认领成功后移除用户的限购标记，
	// 并且只在标记确实存在时归还库存。意图已被消费端认领时什么也不做，返回 ReleaseMaterialized。
	// 重复调用是安全的。
	Release(ctx context.Context, keys domain.LedgerKeys, claimKey string, userID int64, quantity int) (ReleaseOutcome, error)

	// Claim 由消费端在建单前调用，与 Release 互斥。返回 false 表示这条意图已经被补偿。
	Claim(ctx context.Context, claimKey string) (bool, error)

	// Clear 活动结束后删除该场活动的库存与限购标记，其它活动的同一 SKU 不受影响
	Clear(ctx context.Context, keys domain.LedgerKeys) error
}
