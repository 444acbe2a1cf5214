// internal/service/seckill/interfaces/dlt_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"flashbuy/internal/pkg/logger"
	"flashbuy/internal/pkg/mq"
	"flashbuy/internal/service/seckill/domain"
)

// DltConsumerAdapter 监听死信队列，记录日志并落库等待人工对账。
// 死信里的每一条都是一份已扣减、已承诺给用户的库存。
type DltConsumerAdapter struct {
	reader  MessageReader
	topic   string
	letters domain.DeadLetterRepository

	newBackOff func() backoff.BackOff
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewDltConsumerAdapter(reader MessageReader, topic string, letters domain.DeadLetterRepository) *DltConsumerAdapter {
	return &DltConsumerAdapter{
		reader:  reader,
		topic:   topic,
		letters: letters,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (a *DltConsumerAdapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ DLT Consumer Adapter started.")
		for {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 DLT Consumer Adapter shutting down.")
					return
				}
				sleep(ctx, time.Second)
				continue
			}

			letter := toDeadLetter(msg)
			logDeadLetter(ctx, letter)

			err = backoff.Retry(func() error {
				err := a.letters.Save(ctx, letter)
				if err != nil {
					logger.Ctx(ctx).Error().Err(err).Str("idempotency_key", letter.IdempotencyKey).Msg("failed to persist dead letter")
				}
				return err
			}, backoff.WithContext(a.newBackOff(), ctx))
			if err != nil {
				return
			}

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit dead letter")
			}
		}
	}()
}

func (a *DltConsumerAdapter) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	_ = a.reader.Close()
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ DLT Consumer Adapter stopped.")
}

func toDeadLetter(msg kafka.Message) *domain.DeadLetter {
	letter := &domain.DeadLetter{
		IdempotencyKey:    mq.HeaderValue(msg.Headers, mq.HeaderIdempotencyKey),
		OriginalTopic:     mq.HeaderValue(msg.Headers, mq.HeaderOriginalTopic),
		OriginalPartition: mq.HeaderValue(msg.Headers, mq.HeaderOriginalPartition),
		OriginalOffset:    mq.HeaderValue(msg.Headers, mq.HeaderOriginalOffset),
		ErrorType:         mq.HeaderValue(msg.Headers, mq.HeaderExceptionFqcn),
		ErrorMessage:      mq.HeaderValue(msg.Headers, mq.HeaderExceptionMessage),
		Payload:           msg.Value,
		ReceivedAt:        time.Now(),
	}
	// 消息体可能本身就是坏的，解析失败时只保留原始字节
	var intent domain.OrderIntent
	if err := json.Unmarshal(msg.Value, &intent); err == nil {
		letter.RequestID = intent.RequestID
		if letter.IdempotencyKey == "" {
			letter.IdempotencyKey = intent.IdempotencyKey()
		}
	}
	return letter
}

func logDeadLetter(ctx context.Context, letter *domain.DeadLetter) {
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("idempotency_key", letter.IdempotencyKey).
		Str("queue_id", letter.RequestID).
		Str("original_topic", letter.OriginalTopic).
		Str("original_partition", letter.OriginalPartition).
		Str("original_offset", letter.OriginalOffset).
		Str("exception_fqcn", letter.ErrorType).
		Str("exception_message", letter.ErrorMessage).
		Str("value", string(letter.Payload)).
		Msg("🚨 CRITICAL: Dead letter message received")
}
