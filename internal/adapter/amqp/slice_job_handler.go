package amqp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

type SliceJobHandler struct {
	service interfaces.SlicingService
	logger  logger.Logger
}

func NewSliceJobHandler(service interfaces.SlicingService, logger logger.Logger) *SliceJobHandler {
	return &SliceJobHandler{
		service: service,
		logger:  logger,
	}
}

func (h *SliceJobHandler) HandleSliceJob(ctx context.Context, body []byte) error {
	var msg interfaces.SliceJobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		h.logger.Error("message_parse_failed", "Failed to parse slice job message", "", nil, err)
		return err
	}
	if msg.OrderID == "" || msg.FileKey == "" {
		err := fmt.Errorf("slice job is missing order id or file key")
		h.logger.Error("message_invalid", "Rejected slice job", msg.OrderID, nil, err)
		return err
	}

	return h.service.ProcessJob(ctx, msg)
}
