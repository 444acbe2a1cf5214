// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"flashbuy/internal/pkg/logger"
)

// Disposition 描述一条处理失败的消息被转交到了哪里。
type Disposition string

const (
	DispositionRetry      Disposition = "retry"
	DispositionDeadLetter Disposition = "dead_letter"
)

// FailureHandler 负责处理消费失败的消息：未超过重试次数的投递到重试主题，
// 否则（或错误不可重试时）投递到死信主题。
// 消息一旦交给 FailureHandler 且返回 nil，调用方即可提交原消息的 offset。
type FailureHandler struct {
	writer      MessageWriter
	retryTopic  string
	dltTopic    string
	maxAttempts int
	isPermanent func(error) bool
}

// NewFailureHandler 创建 FailureHandler。writer 不能绑定 Topic，目标主题由每条消息指定。
func NewFailureHandler(writer MessageWriter, retryTopic, dltTopic string, maxAttempts int, isPermanent func(error) bool) *FailureHandler {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if isPermanent == nil {
		isPermanent = func(error) bool { return false }
	}
	return &FailureHandler{
		writer:      writer,
		retryTopic:  retryTopic,
		dltTopic:    dltTopic,
		maxAttempts: maxAttempts,
		isPermanent: isPermanent,
	}
}

// Handle 转交失败消息。返回 error 表示转交本身失败，此时调用方不能提交 offset。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) (Disposition, error) {
	attempts := RetryCount(msg) + 1

	target, disposition := h.retryTopic, DispositionRetry
	if h.retryTopic == "" || attempts >= h.maxAttempts || h.isPermanent(cause) {
		target, disposition = h.dltTopic, DispositionDeadLetter
	}

	out := kafka.Message{
		Topic:   target,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: h.buildHeaders(msg, cause, attempts),
	}
	if err := h.writer.WriteMessages(ctx, out); err != nil {
		return disposition, fmt.Errorf("forward failed message to %s: %w", target, err)
	}

	event := logger.Ctx(ctx).Warn()
	if disposition == DispositionDeadLetter {
		event = logger.Ctx(ctx).Error()
	}
	event.Err(cause).
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Int("attempts", attempts).
		Str("forwarded_to", target).
		Msg("message processing failed, forwarded")
	return disposition, nil
}

func (h *FailureHandler) buildHeaders(msg kafka.Message, cause error, attempts int) []kafka.Header {
	headers := make(KafkaHeaderCarrier, 0, len(msg.Headers)+6)
	headers = append(headers, msg.Headers...)

	// 多次重试后保留第一次失败时的来源信息
	if headers.Get(HeaderOriginalTopic) == "" {
		headers.Set(HeaderOriginalTopic, msg.Topic)
		headers.Set(HeaderOriginalPartition, strconv.Itoa(msg.Partition))
		headers.Set(HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	}
	headers.Set(HeaderRetryCount, strconv.Itoa(attempts))
	headers.Set(HeaderExceptionFqcn, fmt.Sprintf("%T", cause))
	headers.Set(HeaderExceptionMessage, cause.Error())
	return headers
}

// RetryCount 返回消息已经失败过的次数。
func RetryCount(msg kafka.Message) int {
	n, err := strconv.Atoi(HeaderValue(msg.Headers, HeaderRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
