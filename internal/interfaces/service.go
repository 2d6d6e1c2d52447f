package interfaces

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/YelzhanWeb/printforge/internal/domain"
)

// Команды для сервисов
type CreateOrderCommand struct {
	CustomerName  string
	CustomerEmail string
	OrderDetails  []json.RawMessage
	Material      domain.Material
	Color         string
	Quantity      int
	Notes         string

	// Direct uploads only: the storage URL the client uploaded to.
	FileURL string
}

// UploadedFile is a model or toolpath streamed through the service.
type UploadedFile struct {
	FileName string
	Size     int64
	Content  io.Reader
}

// UpdateOrderCommand carries a partial update; nil fields are untouched.
type UpdateOrderCommand struct {
	CustomerName   *string
	CustomerEmail  *string
	OrderDetails   *[]json.RawMessage
	Material       *domain.Material
	Color          *string
	Quantity       *int
	Notes          *string
	ConfirmedPrice *float64
	Status         *domain.Status
	SliceStatus    *domain.SliceStatus
}

// Интерфейсы Сервисов (Business Logic)
type CustomOrderService interface {
	SignUpload(ctx context.Context, id domain.Identity, fileName string) (domain.UploadCredential, error)
	CreateFromUpload(ctx context.Context, id domain.Identity, cmd CreateOrderCommand, file UploadedFile) (*domain.CustomOrder, error)
	CreateFromURL(ctx context.Context, id domain.Identity, cmd CreateOrderCommand) (*domain.CustomOrder, error)
	Get(ctx context.Context, id domain.Identity, orderID string) (*domain.CustomOrder, error)
	List(ctx context.Context, id domain.Identity) ([]*domain.CustomOrder, error)
	Update(ctx context.Context, id domain.Identity, orderID string, cmd UpdateOrderCommand) (*domain.CustomOrder, error)
	Delete(ctx context.Context, id domain.Identity, orderID string) error
	AttachToolpath(ctx context.Context, id domain.Identity, orderID string, file UploadedFile) (*domain.CustomOrder, error)

	// BeginSlicing claims a pending order for a worker. domain.ErrConflict
	// means another worker or an admin got there first.
	BeginSlicing(ctx context.Context, orderID, workerName string) (*domain.CustomOrder, error)
	ApplySliceResult(ctx context.Context, orderID, workerName string, outcome SliceOutcome) (*domain.CustomOrder, error)
}

// SliceOutcome is what a worker reports back once the engine has finished.
type SliceOutcome struct {
	Status   domain.SliceStatus
	GcodeURL string
	Stats    domain.GcodeStats
	Error    string
}

type SlicingService interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	ProcessJob(ctx context.Context, msg SliceJobMessage) error
}

type TrackingService interface {
	GetOrderHistory(ctx context.Context, id domain.Identity, orderID string) ([]*domain.StatusLog, error)
	GetWorkersStatus(ctx context.Context) ([]*TrackingWorkerResponse, error)
}

type TrackingWorkerResponse struct {
	WorkerName      string
	Engine          string
	PoolSize        int
	Status          domain.WorkerStatus
	OrdersProcessed int
	LastSeen        time.Time
}
