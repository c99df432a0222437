package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"famfin/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
	maxDialRetries = 3
	dialTimeout    = 5 * time.Second
)

var errCircuitOpen = errors.New("circuit breaker is open")

// Broadcaster fans logout events out to every famfin process sharing a
// session. Each consumer gets its own exclusive queue bound to a fanout
// exchange, so all of them receive every event.
type Broadcaster struct {
	url          string
	exchangeName string
	origin       string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time
}

// NewBroadcaster connects to the broker and declares the exchange.
func NewBroadcaster(ctx context.Context, url, exchangeName string, logger *log.Logger) (*Broadcaster, error) {
	if logger == nil {
		logger = log.Discard()
	}
	b := &Broadcaster{
		url:          url,
		exchangeName: exchangeName,
		origin:       uuid.NewString(),
		logger:       logger.WithComponent(log.ComponentAMQP),
	}

	if _, err := b.ensureChannel(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Origin identifies this process in published messages.
func (b *Broadcaster) Origin() string {
	return b.origin
}

func (b *Broadcaster) ensureChannel(ctx context.Context) (*amqp091.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel != nil && !b.channel.IsClosed() {
		return b.channel, nil
	}
	b.closeLocked()

	var lastErr error
	for attempt := 0; attempt < maxDialRetries; attempt++ {
		if attempt > 0 {
			wait := exponentialBackoff(attempt - 1)
			b.logger.WarnContext(ctx, "Retrying AMQP connection",
				log.FieldAttempt, attempt, "backoff", wait, log.FieldError, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		ch, err := b.connectLocked()
		if err == nil {
			return ch, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("connect to AMQP after %d attempts: %w", maxDialRetries, lastErr)
}

func (b *Broadcaster) connectLocked() (*amqp091.Channel, error) {
	conn, err := amqp091.DialConfig(b.url, amqp091.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp091.DefaultDial(dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		b.exchangeName, // name
		"fanout",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	b.conn = conn
	b.channel = channel
	return channel, nil
}

// PublishLogout announces that the session ended in this process.
func (b *Broadcaster) PublishLogout(ctx context.Context, msg *LogoutMessage) error {
	if b.isCircuitOpen() {
		return fmt.Errorf("publish logout: %w", errCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if msg.Origin == "" {
		msg.Origin = b.origin
	}
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	channel, err := b.ensureChannel(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = channel.PublishWithContext(
		ctx,
		b.exchangeName, // exchange
		"",             // routing key, ignored by fanout
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			MessageId:   msg.ID,
			Timestamp:   msg.Timestamp,
			Body:        body,
		},
	)
	if err != nil {
		b.recordFailure()
		if isConnectionError(err) {
			b.reset()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	b.recordSuccess()

	b.logger.InfoContext(ctx, "Published logout",
		log.FieldOperation, log.OpLogout,
		"message_id", msg.ID,
		"reason", msg.Reason,
		"exchange", b.exchangeName)
	return nil
}

// ConsumeLogout delivers logout events published by other processes until
// ctx ends. Lost connections are re-established with exponential backoff.
func (b *Broadcaster) ConsumeLogout(ctx context.Context, handler func(*LogoutMessage) error) error {
	for attempt := 0; ; attempt++ {
		err := b.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			b.logger.InfoContext(ctx, "Stopping logout consumption", "reason", ctx.Err())
			return ctx.Err()
		}
		if err != nil && !isConnectionError(err) {
			return err
		}

		wait := exponentialBackoff(attempt)
		b.logger.WarnContext(ctx, "Logout consumer disconnected, reconnecting",
			log.FieldAttempt, attempt+1, "backoff", wait, log.FieldError, err)
		b.reset()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (b *Broadcaster) consumeOnce(ctx context.Context, handler func(*LogoutMessage) error) error {
	channel, err := b.ensureChannel(ctx)
	if err != nil {
		return err
	}

	queue, err := channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, "", b.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := channel.Consume(
		queue.Name, // queue
		"",         // consumer
		false,      // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	b.logger.InfoContext(ctx, "Started consuming logout events", "queue", queue.Name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return amqp091.ErrClosed
			}

			msg, err := LogoutMessageFromJSON(delivery.Body)
			if err != nil {
				b.logger.ErrorContext(ctx, "Failed to unmarshal message", log.FieldError, err)
				delivery.Nack(false, false)
				continue
			}

			if msg.Origin == b.origin {
				delivery.Ack(false)
				continue
			}

			if err := handler(msg); err != nil {
				b.logger.ErrorContext(ctx, "Failed to handle logout",
					log.FieldError, err, "message_id", msg.ID)
				delivery.Nack(false, false)
				continue
			}

			delivery.Ack(false)
			b.logger.InfoContext(ctx, "Processed logout from another process",
				"message_id", msg.ID, "reason", msg.Reason)
		}
	}
}

func (b *Broadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

func (b *Broadcaster) closeLocked() {
	if b.channel != nil {
		b.channel.Close()
		b.channel = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Close releases the channel and connection.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	return nil
}

func (b *Broadcaster) isCircuitOpen() bool {
	if atomic.LoadInt32(&b.state) != StateOpen {
		return false
	}
	b.mu.Lock()
	last := b.lastFailure
	b.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&b.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (b *Broadcaster) recordSuccess() {
	atomic.StoreInt64(&b.failureCount, 0)
	atomic.StoreInt32(&b.state, StateClosed)
}

func (b *Broadcaster) recordFailure() {
	b.mu.Lock()
	b.lastFailure = time.Now()
	b.mu.Unlock()

	failures := atomic.AddInt64(&b.failureCount, 1)
	if failures >= maxFailures || atomic.LoadInt32(&b.state) == StateHalfOpen {
		if atomic.SwapInt32(&b.state, StateOpen) != StateOpen {
			b.logger.Warn("Circuit breaker opened", "failures", failures)
		}
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
