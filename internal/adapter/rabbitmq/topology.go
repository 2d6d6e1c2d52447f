package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	slicingExchange     = "slicing_topic"
	slicingDLXExchange  = "slicing_dlq"
	slicingQueue        = "slicing_queue"
	slicingDLQ          = "slicing_queue_dlq"
	notificationsFanout = "notifications_fanout"
)

// sliceRoutingKey routes jobs by model format, e.g. "slice.stl".
func sliceRoutingKey(fileType string) string {
	if fileType == "" {
		fileType = "unknown"
	}
	return "slice." + fileType
}

func declareSlicingExchange(ch Channel) error {
	if err := ch.ExchangeDeclare(slicingExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare slicing exchange: %w", err)
	}
	return nil
}

func declareNotificationsExchange(ch Channel) error {
	if err := ch.ExchangeDeclare(notificationsFanout, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare notifications exchange: %w", err)
	}
	return nil
}

func setupSlicingInfrastructure(ch Channel) error {
	if err := declareSlicingExchange(ch); err != nil {
		return err
	}

	// Declare DLQ exchange
	if err := ch.ExchangeDeclare(slicingDLXExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	// Declare DLQ queue
	if _, err := ch.QueueDeclare(slicingDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	// Bind DLQ
	if err := ch.QueueBind(slicingDLQ, "#", slicingDLXExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	// Declare main queue with DLQ binding
	args := amqp.Table{
		"x-dead-letter-exchange": slicingDLXExchange,
	}
	q, err := ch.QueueDeclare(slicingQueue, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("failed to declare slicing queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "slice.#", slicingExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind slicing queue: %w", err)
	}
	return nil
}
