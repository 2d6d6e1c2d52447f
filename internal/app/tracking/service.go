package tracking

import (
	"context"
	"time"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

type Service struct {
	orderRepo        interfaces.CustomOrderRepository
	workerRepo       interfaces.WorkerRepository
	logger           logger.Logger
	heartbeatTimeout time.Duration
}

// NewService builds the read side. Workers silent for longer than
// heartbeatTimeout are reported offline.
func NewService(orderRepo interfaces.CustomOrderRepository, workerRepo interfaces.WorkerRepository, logger logger.Logger, heartbeatTimeout time.Duration) *Service {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 60 * time.Second
	}
	return &Service{
		orderRepo:        orderRepo,
		workerRepo:       workerRepo,
		logger:           logger,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// GetOrderHistory returns both state axes of an order, oldest first.
func (s *Service) GetOrderHistory(ctx context.Context, id domain.Identity, orderID string) ([]*domain.StatusLog, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.VisibleTo(id) {
		return nil, domain.ErrNotFound
	}
	return s.orderRepo.GetStatusHistory(ctx, order.ID)
}

func (s *Service) GetWorkersStatus(ctx context.Context) ([]*interfaces.TrackingWorkerResponse, error) {
	workers, err := s.workerRepo.ListAll(ctx)
	if err != nil {
		s.logger.Error("db_query_failed", "Failed to list workers", "", nil, err)
		return nil, err
	}

	resp := make([]*interfaces.TrackingWorkerResponse, 0, len(workers))
	for _, w := range workers {
		status := domain.WorkerStatusOffline
		if w.IsOnline(s.heartbeatTimeout) {
			status = domain.WorkerStatusOnline
		}

		resp = append(resp, &interfaces.TrackingWorkerResponse{
			WorkerName:      w.Name,
			Engine:          w.Engine,
			PoolSize:        w.PoolSize,
			Status:          status,
			OrdersProcessed: w.OrdersProcessed,
			LastSeen:        w.LastSeen,
		})
	}

	return resp, nil
}
