package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"flashbuy/internal/pkg/logger"
	"flashbuy/internal/pkg/redis"
	"flashbuy/internal/service/seckill/domain"
)

const FilterClearChannel = "flash:filter:clear"

var errSubscriptionClosed = errors.New("filter clear subscription closed")

// FilterBroadcastRedisAdapter 通过 Redis Pub/Sub 通知所有准入节点清除售罄标记。
// Pub/Sub 不保证送达，丢失的通知由本地过滤器的 TTL 兜底。
// 消息体为 "<eventId>:<skuId>"。
type FilterBroadcastRedisAdapter struct {
	redisClient *redis.Client
	channel     string
}

func NewFilterBroadcastRedisAdapter(redisClient *redis.Client) *FilterBroadcastRedisAdapter {
	return &FilterBroadcastRedisAdapter{redisClient: redisClient, channel: FilterClearChannel}
}

func (a *FilterBroadcastRedisAdapter) BroadcastClear(ctx context.Context, item domain.ItemRef) error {
	if err := a.redisClient.GetClient().Publish(ctx, a.channel, item.String()).Err(); err != nil {
		return fmt.Errorf("failed to broadcast filter clear for %s: %w", item, err)
	}
	return nil
}

// Run 持续监听清除通知，订阅失败或中断后按退避重新订阅，直到 ctx 结束。
// b 为 nil 时使用不限总时长的指数退避。
func (a *FilterBroadcastRedisAdapter) Run(ctx context.Context, onClear func(domain.ItemRef), b backoff.BackOff) {
	if b == nil {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 200 * time.Millisecond
		eb.MaxInterval = 10 * time.Second
		eb.MaxElapsedTime = 0
		b = eb
	}
	b = backoff.WithContext(b, ctx)

	_ = backoff.RetryNotify(func() error {
		ready := make(chan struct{})
		err := a.Listen(ctx, onClear, ready)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		// 订阅成功过才断开的，重新从最短间隔开始
		select {
		case <-ready:
			b.Reset()
		default:
		}
		return err
	}, b, func(err error, wait time.Duration) {
		logger.Ctx(ctx).Warn().Err(err).Dur("retry_in", wait).Msg("filter clear listener down, resubscribing")
	})
}

// Listen 订阅清除通知并回调 onClear，阻塞直到 ctx 结束或订阅中断。
// ready 在订阅确认后被关闭（可以为 nil）。
func (a *FilterBroadcastRedisAdapter) Listen(ctx context.Context, onClear func(domain.ItemRef), ready chan<- struct{}) error {
	sub := a.redisClient.GetClient().Subscribe(ctx, a.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", a.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	logger.Ctx(ctx).Info().Str("channel", a.channel).Msg("✅ Filter clear listener started.")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Str("channel", a.channel).Msg("🛑 Filter clear listener shutting down.")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errSubscriptionClosed
			}
			item, err := parseItemRef(msg.Payload)
			if err != nil {
				logger.Ctx(ctx).Warn().Str("payload", msg.Payload).Msg("ignoring malformed filter clear message")
				continue
			}
			onClear(item)
		}
	}
}

func parseItemRef(payload string) (domain.ItemRef, error) {
	eventPart, skuPart, ok := strings.Cut(payload, ":")
	if !ok {
		return domain.ItemRef{}, fmt.Errorf("missing separator in %q", payload)
	}
	eventID, err := strconv.ParseInt(eventPart, 10, 64)
	if err != nil {
		return domain.ItemRef{}, err
	}
	skuID, err := strconv.ParseInt(skuPart, 10, 64)
	if err != nil {
		return domain.ItemRef{}, err
	}
	return domain.ItemRef{EventID: eventID, SkuID: skuID}, nil
}
