package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"flashbuy/internal/pkg/redis"
	"flashbuy/internal/service/seckill/domain"
)

// ResultRedisAdapter 是 port.ResultStore 的 Redis 实现，Key 为 flash:result:<token>。
type ResultRedisAdapter struct {
	redisClient *redis.Client
	ttl         time.Duration
}

func NewResultRedisAdapter(redisClient *redis.Client, ttl time.Duration) *ResultRedisAdapter {
	return &ResultRedisAdapter{redisClient: redisClient, ttl: ttl}
}

func resultKey(token string) string {
	return "flash:result:" + token
}

func (a *ResultRedisAdapter) MarkQueued(ctx context.Context, token string) error {
	payload, err := json.Marshal(domain.PurchaseResult{Status: domain.ResultQueued})
	if err != nil {
		return err
	}
	// SETNX：消费端可能比准入接口先写入结果，不能被 QUEUED 覆盖
	if err := a.redisClient.GetClient().SetNX(ctx, resultKey(token), payload, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark result queued: %w", err)
	}
	return nil
}

func (a *ResultRedisAdapter) MarkSuccess(ctx context.Context, token, orderID string) error {
	return a.set(ctx, token, domain.PurchaseResult{Status: domain.ResultSuccess, OrderID: orderID})
}

func (a *ResultRedisAdapter) MarkFailed(ctx context.Context, token, reason string) error {
	return a.set(ctx, token, domain.PurchaseResult{Status: domain.ResultFailed, Reason: reason})
}

func (a *ResultRedisAdapter) Forget(ctx context.Context, token string) error {
	if err := a.redisClient.GetClient().Del(ctx, resultKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to forget result: %w", err)
	}
	return nil
}

func (a *ResultRedisAdapter) Get(ctx context.Context, token string) (*domain.PurchaseResult, error) {
	raw, err := a.redisClient.GetClient().Get(ctx, resultKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to load result: %w", err)
	}
	var result domain.PurchaseResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("corrupted result for token %s: %w", token, err)
	}
	return &result, nil
}

func (a *ResultRedisAdapter) set(ctx context.Context, token string, result domain.PurchaseResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := a.redisClient.GetClient().Set(ctx, resultKey(token), payload, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result %s: %w", result.Status, err)
	}
	return nil
}
