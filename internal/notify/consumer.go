// Package notify consumes payment outcome events and turns them into
// customer-facing notifications. The Notifier interface is where an SMS
// gateway plugs in; the default implementation just logs.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"soko-orders/internal/common/mq"
	"soko-orders/internal/domain"
)

const queueName = "payment_notifications"

// Notifier delivers one customer notification for a finished payment.
type Notifier interface {
	NotifyPaymentResult(ctx context.Context, evt domain.PaymentResultEvent) error
}

// LogNotifier writes the notification to the log instead of an SMS gateway.
type LogNotifier struct {
	Lg *zap.Logger
}

func (n LogNotifier) NotifyPaymentResult(ctx context.Context, evt domain.PaymentResultEvent) error {
	n.Lg.Info("customer_notification",
		zap.String("order_id", evt.OrderID),
		zap.String("status", string(evt.Status)),
		zap.Int64("amount", int64(evt.Amount)))
	return nil
}

// Consumer pulls payment.* events off the broker and hands each one to the
// Notifier, acking only after delivery succeeded.
type Consumer struct {
	client   *mq.Client
	notifier Notifier
	lg       *zap.Logger
}

func NewConsumer(client *mq.Client, notifier Notifier, lg *zap.Logger) *Consumer {
	if lg == nil {
		lg = zap.NewNop()
	}
	if notifier == nil {
		notifier = LogNotifier{Lg: lg}
	}
	return &Consumer{client: client, notifier: notifier, lg: lg}
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.client.Consume(queueName, "soko-notify",
		domain.EventPaymentSuccess, domain.EventPaymentFailed, domain.EventPaymentTimedOut)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, d.RoutingKey, d.Body); err != nil {
				c.lg.Warn("notification_failed",
					zap.String("routing_key", d.RoutingKey), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, routingKey string, body []byte) error {
	var evt domain.PaymentResultEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("decode %s event: %w", routingKey, err)
	}
	if evt.OrderID == "" {
		return fmt.Errorf("event on %s has no order id", routingKey)
	}
	return c.notifier.NotifyPaymentResult(ctx, evt)
}
