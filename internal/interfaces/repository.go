package interfaces

import (
	"context"
	"errors"

	"github.com/YelzhanWeb/printforge/internal/domain"
)

// OrderFilter scopes a listing. An empty CustomerID lists every order.
type OrderFilter struct {
	CustomerID string
	Limit      int
}

// Интерфейсы Репозиториев (Adapter/Postgres)
type CustomOrderRepository interface {
	Create(ctx context.Context, order *domain.CustomOrder) error
	FindByID(ctx context.Context, id string) (*domain.CustomOrder, error)
	List(ctx context.Context, filter OrderFilter) ([]*domain.CustomOrder, error)
	// Patch merges only the non-nil fields of patch and returns the stored
	// order. A failed ExpectSliceStatus guard yields domain.ErrConflict.
	Patch(ctx context.Context, id string, patch domain.OrderPatch, changedBy string) (*domain.CustomOrder, error)
	Delete(ctx context.Context, id string) error
	GetStatusHistory(ctx context.Context, orderID string) ([]*domain.StatusLog, error)
}

var ErrWorkerNotFound = errors.New("worker not found")

type WorkerRepository interface {
	Create(ctx context.Context, worker *domain.Worker) error
	FindByName(ctx context.Context, name string) (*domain.Worker, error)
	Update(ctx context.Context, worker *domain.Worker) error
	UpdateHeartbeat(ctx context.Context, name string) error
	ListAll(ctx context.Context) ([]*domain.Worker, error)
	IncrementOrdersProcessed(ctx context.Context, name string) error
}
