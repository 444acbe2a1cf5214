package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"flashbuy/internal/pkg/redis"
	"flashbuy/internal/service/seckill/domain"
	"flashbuy/internal/service/seckill/domain/port"
)

const (
	deductScriptName  = "seckill_deduct"
	releaseScriptName = "seckill_release"
	claimScriptName   = "seckill_claim"

	// 限购标记不过期时，认领记录仍需要一个上限
	defaultClaimTTL = 72 * time.Hour
)

// LedgerRedisAdapter 是 port.StockLedger 的 Redis 实现。
// 库存判断、限购判断和扣减都在同一个 Lua 脚本里完成，这是整个设计中唯一的同步点，
// 应用代码中不允许出现"先读再写"库存的逻辑。
type LedgerRedisAdapter struct {
	redisClient *redis.Client
	markTTL     time.Duration
	claimTTL    time.Duration
}

// NewLedgerRedisAdapter 创建账本适配器，并在创建时加载所有 Lua 脚本。
// markTTL 是限购集合的过期时间，<= 0 表示不过期（依赖活动结束后的清理任务）。
func NewLedgerRedisAdapter(redisClient *redis.Client, markTTL time.Duration) (*LedgerRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(deductScriptName, deductScript); err != nil {
		return nil, fmt.Errorf("failed to load critical deduct script: %w", err)
	}
	if err := redisClient.LoadScriptFromContent(releaseScriptName, releaseScript); err != nil {
		return nil, fmt.Errorf("failed to load release script: %w", err)
	}
	if err := redisClient.LoadScriptFromContent(claimScriptName, claimScript); err != nil {
		return nil, fmt.Errorf("failed to load claim script: %w", err)
	}
	claimTTL := markTTL
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &LedgerRedisAdapter{redisClient: redisClient, markTTL: markTTL, claimTTL: claimTTL}, nil
}

// Deduct 执行原子扣减
func (a *LedgerRedisAdapter) Deduct(ctx context.Context, keys domain.LedgerKeys, userID int64, quantity int) (port.DeductOutcome, error) {
	result, err := a.redisClient.RunScript(ctx, deductScriptName,
		[]string{keys.StockKey, keys.LimitKey},
		strconv.FormatInt(userID, 10), quantity, int64(a.markTTL/time.Second),
	)
	if err != nil {
		return port.DeductOutcome{}, fmt.Errorf("ledger adapter failed to run deduct script: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return port.DeductOutcome{}, fmt.Errorf("unexpected result type from deduct script: %T", result)
	}
	return port.OutcomeFromSentinel(code)
}

func (a *LedgerRedisAdapter) Init(ctx context.Context, stockKey string, count int64) error {
	if count < 0 {
		return fmt.Errorf("stock count must not be negative: %d", count)
	}
	if err := a.redisClient.GetClient().Set(ctx, stockKey, count, 0).Err(); err != nil {
		return fmt.Errorf("failed to init stock %s: %w", stockKey, err)
	}
	return nil
}

func (a *LedgerRedisAdapter) Recover(ctx context.Context, stockKey string, quantity int) error {
	if err := a.redisClient.GetClient().IncrBy(ctx, stockKey, int64(quantity)).Err(); err != nil {
		return fmt.Errorf("failed to recover stock %s: %w", stockKey, err)
	}
	return nil
}

func (a *LedgerRedisAdapter) Release(ctx context.Context, keys domain.LedgerKeys, claimKey string, userID int64, quantity int) (port.ReleaseOutcome, error) {
	result, err := a.redisClient.RunScript(ctx, releaseScriptName,
		[]string{keys.StockKey, keys.LimitKey, claimKey},
		strconv.FormatInt(userID, 10), quantity, int64(a.claimTTL/time.Second),
	)
	if err != nil {
		return 0, fmt.Errorf("ledger adapter failed to run release script: %w", err)
	}
	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from release script: %T", result)
	}
	switch code {
	case 1:
		return port.ReleaseRestored, nil
	case 0:
		return port.ReleaseNoop, nil
	case -1:
		return port.ReleaseMaterialized, nil
	default:
		return 0, fmt.Errorf("unknown result code from release script: %d", code)
	}
}

func (a *LedgerRedisAdapter) Claim(ctx context.Context, claimKey string) (bool, error) {
	result, err := a.redisClient.RunScript(ctx, claimScriptName, []string{claimKey}, int64(a.claimTTL/time.Second))
	if err != nil {
		return false, fmt.Errorf("ledger adapter failed to run claim script: %w", err)
	}
	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from claim script: %T", result)
	}
	return code == 1, nil
}

func (a *LedgerRedisAdapter) Clear(ctx context.Context, keys domain.LedgerKeys) error {
	// 两个 Key 在同一个 slot，集群模式下也可以一次 DEL
	if err := a.redisClient.GetClient().Del(ctx, keys.StockKey, keys.LimitKey).Err(); err != nil {
		return fmt.Errorf("failed to clear ledger keys: %w", err)
	}
	return nil
}

// KEYS[1]: 库存 Key, 例如 flash:stock:7:{1001}
// KEYS[2]: 限购集合 Key, 例如 flash:user:7:{1001}
// ARGV[1]: 用户 ID
// ARGV[2]: 购买数量
// ARGV[3]: 限购集合的过期秒数, 0 表示不设置
//
// 返回: >= 0 剩余库存; -1 库存不足; -2 已经购买过
// 先判断库存再判断限购：库存耗尽后不必再查用户集合。
var deductScript = `
local stock = tonumber(redis.call('get', KEYS[1]))
local quantity = tonumber(ARGV[2])

if stock == nil or stock < quantity then
    return -1
end

if redis.call('sismember', KEYS[2], ARGV[1]) == 1 then
    return -2
end

local remaining = redis.call('decrby', KEYS[1], quantity)
redis.call('sadd', KEYS[2], ARGV[1])

local ttl = tonumber(ARGV[3])
if ttl and ttl > 0 and redis.call('ttl', KEYS[2]) == -1 then
    redis.call('expire', KEYS[2], ttl)
end

return remaining
`

// KEYS[1], KEYS[2] 同上; KEYS[3]: 意图认领 Key, 例如 flash:claim:<requestId>:{1001}
// ARGV[1]: 用户 ID; ARGV[2]: 归还数量; ARGV[3]: 认领记录的过期秒数
//
// 返回: 1 已归还; 0 无需归还; -1 消费端已认领
// 认领记录保证同一条意图只会被补偿一次，用户之后重新购买留下的新标记不会被旧意图的重试移除。
var releaseScript = `
local owner = redis.call('get', KEYS[3])
if owner == 'materialized' then
    return -1
end
if owner == 'compensated' then
    return 0
end
redis.call('set', KEYS[3], 'compensated', 'EX', tonumber(ARGV[3]))

if redis.call('srem', KEYS[2], ARGV[1]) == 1 then
    redis.call('incrby', KEYS[1], tonumber(ARGV[2]))
    return 1
end
return 0
`

// KEYS[1]: 意图认领 Key; ARGV[1]: 过期秒数
// 返回: 1 由消费端持有（含重复投递）; 0 已被补偿
var claimScript = `
local owner = redis.call('get', KEYS[1])
if owner == 'compensated' then
    return 0
end
if not owner then
    redis.call('set', KEYS[1], 'materialized', 'EX', tonumber(ARGV[1]))
end
return 1
`
