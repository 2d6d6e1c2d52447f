package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/YelzhanWeb/printforge/internal/domain"
)

// ErrRequeue marks a job that should go back on the queue for another
// worker instead of to the dead letter queue.
var ErrRequeue = errors.New("requeue job")

// SliceJobMessage asks a slicer worker to process one order's model file.
type SliceJobMessage struct {
	OrderID       string          `json:"order_id"`
	FileKey       string          `json:"file_key"`
	FileName      string          `json:"file_name"`
	FileType      string          `json:"file_type"`
	FileSizeBytes int64           `json:"file_size_bytes"`
	Material      domain.Material `json:"material"`
	Quantity      int             `json:"quantity"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

// StatusUpdateMessage announces a change on either state axis of an order.
type StatusUpdateMessage struct {
	OrderID   string      `json:"order_id"`
	Axis      domain.Axis `json:"axis"`
	OldValue  string      `json:"old_value"`
	NewValue  string      `json:"new_value"`
	ChangedBy string      `json:"changed_by"`
	GcodeURL  *string     `json:"gcode_url,omitempty"`
	Error     *string     `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Интерфейсы Messaging (Adapter/RabbitMQ)
type MessagePublisher interface {
	PublishSliceJob(ctx context.Context, msg SliceJobMessage) error
	PublishStatusUpdate(ctx context.Context, msg StatusUpdateMessage) error
}

type MessageConsumer interface {
	ConsumeSliceJobs(ctx context.Context, handler SliceJobHandler) error
	ConsumeNotifications(ctx context.Context, handler NotificationHandler) error
}

type (
	SliceJobHandler     func(ctx context.Context, body []byte) error
	NotificationHandler func(ctx context.Context, body []byte) error
)
