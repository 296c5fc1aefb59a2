// Package amqp publishes balance events and carries reconcile requests over
// RabbitMQ.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"ledger/internal/core"
	ledgerlog "ledger/internal/log"
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
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// ErrCircuitOpen is returned while the broker is considered unavailable.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type Client struct {
	url          string
	exchangeName string
	queueName    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	breakerMu    sync.Mutex
	lastFailure  time.Time
}

// NewClient dials the broker and declares the topic exchange plus the
// durable reconcile request queue.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	client.mu.Lock()
	err := client.connectLocked()
	client.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) connectLocked() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

func setup(channel *amqp091.Channel, exchangeName, queueName string) error {
	err := channel.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = channel.QueueBind(
		queueName,                  // queue name
		RoutingKeyReconcileRequest, // routing key
		exchangeName,               // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// channelLocked returns a usable channel, reconnecting when the previous one
// was closed by the broker.
func (c *Client) channelLocked() (*amqp091.Channel, error) {
	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.resetLocked()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c.channel, nil
}

func (c *Client) resetLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}

	c.breakerMu.Lock()
	last := c.lastFailure
	c.breakerMu.Unlock()

	if time.Since(last) > openTimeout {
		// let one attempt through
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	failures := atomic.AddInt64(&c.failureCount, 1)

	c.breakerMu.Lock()
	c.lastFailure = time.Now()
	c.breakerMu.Unlock()

	if failures >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			slog.Warn("AMQP circuit breaker opened",
				ledgerlog.FieldComponent, ledgerlog.ComponentAMQP,
				"failures", failures)
		}
	}
}

// exponentialBackoff returns 1s, 2s, 4s ... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
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
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"eof",
		"broken pipe",
		"use of closed network connection",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (c *Client) publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish to %s: %w", c.exchangeName, ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	channel, err := c.channelLocked()
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish message: %w", err)
	}

	err = channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		if isConnectionError(err) {
			c.resetLocked()
		}
		c.recordFailure()
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	return nil
}

// PublishBalanceChanged publishes a committed balance change on balance.<operation>.
func (c *Client) PublishBalanceChanged(ctx context.Context, change core.BalanceChange) error {
	msg := NewBalanceChangedMessage(change)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, msg.RoutingKey(), msg.MessageID, body); err != nil {
		return err
	}

	slog.DebugContext(ctx, "Published balance changed message",
		ledgerlog.FieldMessageID, msg.MessageID,
		ledgerlog.FieldAccountID, msg.AccountID,
		ledgerlog.FieldOperation, msg.Operation,
		"exchange", c.exchangeName)
	return nil
}

// PublishReconcileRequest asks a worker to reconcile accountID, or every
// account when accountID is zero. It returns the message id.
func (c *Client) PublishReconcileRequest(ctx context.Context, accountID int64) (string, error) {
	msg := NewReconcileRequestMessage(accountID)
	body, err := msg.ToJSON()
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, RoutingKeyReconcileRequest, msg.MessageID, body); err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Published reconcile request",
		ledgerlog.FieldOperation, ledgerlog.OpPublish,
		ledgerlog.FieldMessageID, msg.MessageID,
		ledgerlog.FieldAccountID, accountID,
		"queue", c.queueName)
	return msg.MessageID, nil
}

// ConsumeReconcileRequests delivers reconcile requests to handler until ctx
// is done. A lost connection is re-established with exponential backoff.
//
// Successfully handled messages are acked. Retryable handler failures are
// requeued, anything else is rejected.
func (c *Client) ConsumeReconcileRequests(ctx context.Context, handler func(context.Context, *ReconcileRequestMessage) error) error {
	attempt := 0
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		}
		if !isConnectionError(err) && !errors.Is(err, errDeliveriesClosed) {
			return err
		}

		wait := exponentialBackoff(attempt)
		attempt++
		slog.WarnContext(ctx, "AMQP consumer lost connection, reconnecting",
			ledgerlog.FieldComponent, ledgerlog.ComponentAMQP,
			ledgerlog.FieldError, err,
			"attempt", attempt,
			"backoff", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		c.mu.Lock()
		c.resetLocked()
		c.mu.Unlock()
	}
}

var errDeliveriesClosed = errors.New("message channel closed")

func (c *Client) consumeOnce(ctx context.Context, handler func(context.Context, *ReconcileRequestMessage) error) error {
	c.mu.Lock()
	channel, err := c.channelLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	msgs, err := channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming reconcile requests",
		ledgerlog.FieldComponent, ledgerlog.ComponentAMQP,
		ledgerlog.FieldOperation, ledgerlog.OpConsume,
		"queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errDeliveriesClosed
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler func(context.Context, *ReconcileRequestMessage) error) {
	msg, err := ReconcileRequestMessageFromJSON(delivery.Body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal message", ledgerlog.FieldError, err)
		delivery.Nack(false, false) // reject and don't requeue
		return
	}

	msgCtx := ledgerlog.WithCorrelationID(ctx, msg.MessageID)
	slog.InfoContext(msgCtx, "Processing reconcile request",
		ledgerlog.FieldMessageID, msg.MessageID,
		ledgerlog.FieldAccountID, msg.AccountID)

	if err := handler(msgCtx, msg); err != nil {
		requeue := core.IsRetryable(err)
		slog.ErrorContext(msgCtx, "Failed to handle message",
			ledgerlog.FieldError, err,
			ledgerlog.FieldErrorType, ledgerlog.ErrorType(err),
			ledgerlog.FieldMessageID, msg.MessageID,
			"requeue", requeue)
		delivery.Nack(false, requeue)
		return
	}

	delivery.Ack(false)
	slog.InfoContext(msgCtx, "Successfully processed reconcile request",
		ledgerlog.FieldMessageID, msg.MessageID)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
