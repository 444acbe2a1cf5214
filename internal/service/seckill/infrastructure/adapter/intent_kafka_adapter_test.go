package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashbuy/internal/pkg/mq"
	"flashbuy/internal/service/seckill/domain"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestPublishEncodesIntent(t *testing.T) {
	w := &captureWriter{}
	pub := NewIntentKafkaAdapter(w)
	intent := domain.NewOrderIntent("req-1", 42, 7, 1001, 1, time.UnixMilli(1700000000000))

	require.NoError(t, pub.Publish(context.Background(), intent))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("1001"), msg.Key)
	assert.Equal(t, "7:1001:42", mq.HeaderValue(msg.Headers, mq.HeaderIdempotencyKey))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "req-1", decoded["requestId"])
	assert.EqualValues(t, 42, decoded["userId"])
	assert.EqualValues(t, 7, decoded["eventId"])
	assert.EqualValues(t, 1001, decoded["skuId"])
	assert.EqualValues(t, 1, decoded["quantity"])
	assert.EqualValues(t, 1700000000000, decoded["acceptedAt"])
}

func TestPublishSurfacesBrokerError(t *testing.T) {
	w := &captureWriter{err: errors.New("not enough replicas")}
	pub := NewIntentKafkaAdapter(w)

	err := pub.Publish(context.Background(), domain.NewOrderIntent("req-2", 1, 1, 1, 1, time.Now()))
	assert.Error(t, err)
}
