package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const attemptsHeader = "x-attempts"

// Handler processes one intent message. A nil error acks it.
type Handler func(ctx context.Context, msg IntentMessage) error

type ConsumerOptions struct {
	Concurrency int
	// MaxAttempts bounds redeliveries through the retry queue before the
	// message is dead-lettered.
	MaxAttempts int
	RetryDelay  time.Duration
}

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	opts  ConsumerOptions
	retry *Publisher
	log   zerolog.Logger
}

func NewConsumer(url, queue string, opts ConsumerOptions, log zerolog.Logger) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	//  strict concurrency control
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Consumer{
		conn:  conn,
		ch:    ch,
		queue: queue,
		opts:  opts,
		retry: &Publisher{ch: ch, queue: queue},
		log:   log,
	}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Publisher returns a dispatcher sharing the consumer's channel, used by the sweeper.
func (c *Consumer) Publisher() *Publisher { return c.retry }

func attemptsOf(d amqp.Delivery) int {
	switch v := d.Headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Run consumes until ctx is cancelled or the broker closes the delivery channel.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info().Str("queue", c.queue).Int("concurrency", c.opts.Concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d, h)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, d amqp.Delivery, h Handler) {
	var m IntentMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.IntentID == "" {
		c.log.Warn().Err(err).Int("worker", workerID).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err := h(ctx, m)
	if err == nil {
		if err := d.Ack(false); err != nil {
			c.log.Error().Err(err).Int("worker", workerID).Str("intent_id", m.IntentID).Msg("ack failed")
		}
		return
	}

	if ctx.Err() != nil {
		// shutting down; the message did not really fail
		c.log.Info().Int("worker", workerID).Str("intent_id", m.IntentID).Msg("requeue on shutdown")
		_ = d.Nack(false, true)
		return
	}

	attempts := attemptsOf(d) + 1
	c.log.Warn().Err(err).
		Int("worker", workerID).
		Str("intent_id", m.IntentID).
		Int("attempt", attempts).
		Dur("cost", time.Since(start)).
		Msg("intent failed")

	if attempts >= c.opts.MaxAttempts {
		_ = d.Nack(false, false)
		return
	}
	expiration := strconv.FormatInt(c.opts.RetryDelay.Milliseconds(), 10)
	if err := c.retry.publish(ctx, retryQueue(c.queue), m, amqp.Table{attemptsHeader: int32(attempts)}, expiration); err != nil {
		c.log.Error().Err(err).Str("intent_id", m.IntentID).Msg("schedule retry failed")
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
