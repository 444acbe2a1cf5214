package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"flashbuy/internal/pkg/mq"
	"flashbuy/internal/service/seckill/domain"
)

// IntentKafkaAdapter 实现了 port.OrderIntentPublisher 接口。
// writer 必须是同步、RequireAll 的（见 mq.NewKafkaWriter），
// 这样 Publish 返回 nil 才等价于"消息已持久化"。
type IntentKafkaAdapter struct {
	writer mq.MessageWriter
}

func NewIntentKafkaAdapter(writer mq.MessageWriter) *IntentKafkaAdapter {
	return &IntentKafkaAdapter{writer: writer}
}

func (a *IntentKafkaAdapter) Publish(ctx context.Context, intent *domain.OrderIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal order intent: %w", err)
	}

	// 以 SKU 作为分区键，同一商品的意图落在同一分区
	key := []byte(strconv.FormatInt(intent.SkuID, 10))
	err = mq.ProduceMessage(ctx, a.writer, key, payload,
		kafka.Header{Key: mq.HeaderIdempotencyKey, Value: []byte(intent.IdempotencyKey())},
	)
	if err != nil {
		return fmt.Errorf("failed to publish order intent %s: %w", intent.RequestID, err)
	}
	return nil
}
