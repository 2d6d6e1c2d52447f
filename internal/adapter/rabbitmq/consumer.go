package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

type consumer struct {
	conn     Connection
	prefetch int
	logger   logger.Logger
}

// NewConsumer handles up to prefetch slice jobs at once; the broker never
// delivers more than that many unacknowledged messages.
func NewConsumer(conn Connection, prefetch int, lgr logger.Logger) interfaces.MessageConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &consumer{conn: conn, prefetch: prefetch, logger: lgr}
}

func (c *consumer) ConsumeSliceJobs(ctx context.Context, handler interfaces.SliceJobHandler) error {
	return c.withReconnect(ctx, "slice_jobs", func(ctx context.Context) error {
		return c.consumeSliceJobs(ctx, handler)
	})
}

func (c *consumer) ConsumeNotifications(ctx context.Context, handler interfaces.NotificationHandler) error {
	return c.withReconnect(ctx, "notifications", func(ctx context.Context) error {
		return c.consumeNotifications(ctx, handler)
	})
}

func (c *consumer) withReconnect(ctx context.Context, name string, consume func(context.Context) error) error {
	for {
		err := consume(ctx)

		// Если контекст отменен или соединение закрыто намеренно - выходим
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err == nil {
			return nil
		}

		c.logger.Error("consumer_disconnected", fmt.Sprintf("%s consumer disconnected, reconnecting in 5 seconds", name), "", nil, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *consumer) consumeSliceJobs(ctx context.Context, handler interfaces.SliceJobHandler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	// Отслеживаем закрытие канала
	closeChan := ch.NotifyClose()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := setupSlicingInfrastructure(ch); err != nil {
		return err
	}

	msgs, err := ch.Consume(slicingQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	// In-flight jobs run to completion, even on shutdown, and finish before
	// the channel is closed so their acks land.
	jobCtx := context.WithoutCancel(ctx)
	var pool errgroup.Group
	pool.SetLimit(c.prefetch)
	defer pool.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-closeChan:
			if err != nil {
				return fmt.Errorf("channel closed: %w", err)
			}
			return fmt.Errorf("channel closed gracefully")

		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("messages channel closed")
			}

			// Blocks while every pool slot is busy.
			pool.Go(func() error {
				settle(msg, handler(jobCtx, msg.Body))
				return nil
			})
		}
	}
}

// settle acks handled jobs, requeues ErrRequeue and dead-letters the rest.
func settle(msg amqp.Delivery, err error) {
	switch {
	case err == nil:
		msg.Ack(false)
	case errors.Is(err, interfaces.ErrRequeue):
		msg.Nack(false, true)
	default:
		msg.Nack(false, false)
	}
}

func (c *consumer) consumeNotifications(ctx context.Context, handler interfaces.NotificationHandler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	// Отслеживаем закрытие канала
	closeChan := ch.NotifyClose()

	if err := declareNotificationsExchange(ch); err != nil {
		return err
	}

	// Declare temporary exclusive queue
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", notificationsFanout, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-closeChan:
			if err != nil {
				return fmt.Errorf("channel closed: %w", err)
			}
			return fmt.Errorf("channel closed gracefully")

		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("messages channel closed")
			}

			// Игнорируем ошибки обработки уведомлений
			_ = handler(ctx, msg.Body)
		}
	}
}
