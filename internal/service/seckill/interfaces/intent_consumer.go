package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"flashbuy/internal/pkg/logger"
	"flashbuy/internal/pkg/mq"
	"flashbuy/internal/service/seckill/application"
	"flashbuy/internal/service/seckill/domain"
)

// MessageReader 是 *kafka.Reader 中消费者用到的部分
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// IntentHandler 由 application.Materializer 实现
type IntentHandler interface {
	HandleOrderIntent(ctx context.Context, intent *domain.OrderIntent) error
}

// IntentConsumerAdapter 是一个驱动适配器，它监听下单意图主题并驱动 Materializer。
// offset 只在消息处理成功或已转交给重试/死信主题之后提交，保证任何一条意图都不会被静默丢弃。
type IntentConsumerAdapter struct {
	reader         MessageReader
	topic          string
	handler        IntentHandler
	failureHandler *mq.FailureHandler

	delay          time.Duration
	processTimeout time.Duration
	maxRetries     uint64
	newBackOff     func() backoff.BackOff

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIntentConsumerAdapter(reader MessageReader, topic string, handler IntentHandler, failureHandler *mq.FailureHandler, processTimeout time.Duration) *IntentConsumerAdapter {
	return &IntentConsumerAdapter{
		reader:         reader,
		topic:          topic,
		handler:        handler,
		failureHandler: failureHandler,
		processTimeout: processTimeout,
		maxRetries:     3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 0 // 进程内重试由 maxRetries 限制，转交重试不设上限
			return b
		},
	}
}

// SetDelay 让消费者在消息产生 d 之后才处理它，用于重试主题
func (a *IntentConsumerAdapter) SetDelay(d time.Duration) {
	a.delay = d
}

// Start 开始监听Kafka主题。
func (a *IntentConsumerAdapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ Intent Consumer Adapter started.")
		for {
			// 使用FetchMessage而不是ReadMessage，offset 由我们显式提交
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("🛑 Intent Consumer Adapter shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Str("topic", a.topic).Msg("could not fetch message, retrying")
				sleep(ctx, time.Second)
				continue
			}

			if err := a.handle(ctx, msg); err != nil {
				// 只有关闭时才会走到这里：不提交，也不能继续消费后面的消息，重启后会重新投递
				logger.Ctx(ctx).Warn().Err(err).Int64("offset", msg.Offset).Msg("message left uncommitted on shutdown")
				return
			}

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit messages")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (a *IntentConsumerAdapter) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if err := a.reader.Close(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("topic", a.topic).Msg("failed to close reader")
	}
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ Intent Consumer Adapter stopped.")
}

// handle 返回 nil 表示可以提交 offset
func (a *IntentConsumerAdapter) handle(ctx context.Context, msg kafka.Message) error {
	if a.delay > 0 {
		if wait := time.Until(msg.Time.Add(a.delay)); wait > 0 {
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
		}
	}

	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
	processingErr := a.process(msgCtx, msg)
	if processingErr == nil {
		return nil
	}

	// 转交失败时不断重试，直到成功或进程退出
	return backoff.Retry(func() error {
		_, err := a.failureHandler.Handle(msgCtx, msg, processingErr)
		if err != nil {
			logger.Ctx(msgCtx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to hand off failed message")
		}
		return err
	}, backoff.WithContext(a.newBackOff(), ctx))
}

// process 解析消息并调用应用服务，临时性错误在进程内先重试几次
func (a *IntentConsumerAdapter) process(ctx context.Context, msg kafka.Message) error {
	var intent domain.OrderIntent
	if err := json.Unmarshal(msg.Value, &intent); err != nil {
		return fmt.Errorf("%w: decode order intent: %w", application.ErrPermanent, err)
	}

	if a.processTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.processTimeout)
		defer cancel()
	}

	return backoff.Retry(func() error {
		err := a.handler.HandleOrderIntent(ctx, &intent)
		if application.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(a.newBackOff(), a.maxRetries), ctx))
}

// sleep 返回 false 表示 ctx 先结束
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
