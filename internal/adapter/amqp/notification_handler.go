package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

type NotificationHandler struct {
	logger logger.Logger
	out    io.Writer
}

func NewNotificationHandler(logger logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		logger: logger,
		out:    os.Stdout,
	}
}

func (h *NotificationHandler) HandleNotification(ctx context.Context, body []byte) error {
	var msg interfaces.StatusUpdateMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		h.logger.Error("message_parse_failed", "Failed to parse notification", "", nil, err)
		return err
	}

	h.logger.Debug("notification_received", fmt.Sprintf("Received %s update for order %s", msg.Axis, msg.OrderID),
		msg.OrderID, map[string]interface{}{
			"order_id":  msg.OrderID,
			"axis":      msg.Axis,
			"new_value": msg.NewValue,
		})

	// Print to console
	fmt.Fprintln(h.out, describe(msg))

	return nil
}

func describe(msg interfaces.StatusUpdateMessage) string {
	if msg.Axis != domain.AxisSlice {
		return fmt.Sprintf("Notification for order %s: Status changed from '%s' to '%s' by %s",
			msg.OrderID, msg.OldValue, msg.NewValue, msg.ChangedBy)
	}

	line := fmt.Sprintf("Notification for order %s: Slicing moved from '%s' to '%s'", msg.OrderID, msg.OldValue, msg.NewValue)
	if msg.GcodeURL != nil {
		line += fmt.Sprintf(", toolpath at %s", *msg.GcodeURL)
	}
	if msg.Error != nil {
		line += fmt.Sprintf(", error: %s", *msg.Error)
	}
	return line
}
