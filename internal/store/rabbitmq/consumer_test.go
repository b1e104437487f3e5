package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptsOf(t *testing.T) {
	assert.Equal(t, 0, attemptsOf(amqp.Delivery{}))
	assert.Equal(t, 3, attemptsOf(amqp.Delivery{Headers: amqp.Table{attemptsHeader: int32(3)}}))
	assert.Equal(t, 4, attemptsOf(amqp.Delivery{Headers: amqp.Table{attemptsHeader: int64(4)}}))
	assert.Equal(t, 0, attemptsOf(amqp.Delivery{Headers: amqp.Table{attemptsHeader: "7"}}))
}

func TestIntentMessageWireFormat(t *testing.T) {
	b, err := json.Marshal(IntentMessage{IntentID: "01J0000000000000000000000A", Kind: "visitor_unread"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"intent_id":"01J0000000000000000000000A","kind":"visitor_unread"}`, string(b))
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "support_outbox.retry", retryQueue("support_outbox"))
	assert.Equal(t, "support_outbox.dlq", deadQueue("support_outbox"))
}

type ackRecorder struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked = true; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func delivery(t *testing.T, ack amqp.Acknowledger, attempts int32) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(IntentMessage{IntentID: "01J0000000000000000000000A", Kind: "visitor_unread"})
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body, Headers: amqp.Table{attemptsHeader: attempts}}
}

func TestHandle_RequeuesOnShutdown(t *testing.T) {
	c := &Consumer{queue: "support_outbox", opts: ConsumerOptions{MaxAttempts: 5}, log: zerolog.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &ackRecorder{}
	c.handle(ctx, 0, delivery(t, rec, 0), func(ctx context.Context, _ IntentMessage) error { return ctx.Err() })

	assert.False(t, rec.acked)
	assert.True(t, rec.nacked)
	assert.True(t, rec.requeued)
}

func TestHandle_DeadLettersAfterMaxAttempts(t *testing.T) {
	c := &Consumer{queue: "support_outbox", opts: ConsumerOptions{MaxAttempts: 3}, log: zerolog.Nop()}

	rec := &ackRecorder{}
	c.handle(context.Background(), 0, delivery(t, rec, 2), func(context.Context, IntentMessage) error {
		return errors.New("profile store down")
	})

	assert.True(t, rec.nacked)
	assert.False(t, rec.requeued)
}

func TestHandle_AcksSuccess(t *testing.T) {
	c := &Consumer{queue: "support_outbox", opts: ConsumerOptions{MaxAttempts: 3}, log: zerolog.Nop()}

	rec := &ackRecorder{}
	c.handle(context.Background(), 0, delivery(t, rec, 0), func(context.Context, IntentMessage) error { return nil })

	assert.True(t, rec.acked)
	assert.False(t, rec.nacked)
}
