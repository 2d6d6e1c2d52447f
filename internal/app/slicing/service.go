package slicing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
	"github.com/YelzhanWeb/printforge/internal/metrics"
	"github.com/YelzhanWeb/printforge/internal/slicer"
	"github.com/YelzhanWeb/printforge/internal/upload"
)

// Engine is the slicing backend a worker drives.
type Engine interface {
	Configured() bool
	Slice(ctx context.Context, data []byte, ext string) slicer.Result
}

// Files reads models and stores produced toolpaths.
type Files interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
	StoreSliced(ctx context.Context, orderID string, gcode io.Reader, size int64) (upload.StoredFile, error)
}

// Orders is the part of the order service a worker reports to.
type Orders interface {
	BeginSlicing(ctx context.Context, orderID, workerName string) (*domain.CustomOrder, error)
	ApplySliceResult(ctx context.Context, orderID, workerName string, outcome interfaces.SliceOutcome) (*domain.CustomOrder, error)
}

type Options struct {
	WorkerName        string
	EngineName        string
	PoolSize          int
	HeartbeatInterval time.Duration
}

type Service struct {
	orders     Orders
	workerRepo interfaces.WorkerRepository
	files      Files
	engine     Engine
	logger     logger.Logger
	opts       Options
}

func NewService(
	orders Orders,
	workerRepo interfaces.WorkerRepository,
	files Files,
	engine Engine,
	opts Options,
	logger logger.Logger,
) *Service {
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	return &Service{
		orders:     orders,
		workerRepo: workerRepo,
		files:      files,
		engine:     engine,
		logger:     logger,
		opts:       opts,
	}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.engine.Configured() {
		return errors.New("no slicing engine configured for this worker")
	}

	// 1. Регистрация воркера
	worker, err := s.workerRepo.FindByName(ctx, s.opts.WorkerName)
	switch {
	case err == nil:
		if worker.IsOnline(3 * s.opts.HeartbeatInterval) {
			return fmt.Errorf("worker with name %s is already online", s.opts.WorkerName)
		}
		worker.UpdateHeartbeat()
		worker.Engine = s.opts.EngineName
		worker.PoolSize = s.opts.PoolSize
		if err := s.workerRepo.Update(ctx, worker); err != nil {
			return err
		}
	case errors.Is(err, interfaces.ErrWorkerNotFound):
		worker, err = domain.NewWorker(s.opts.WorkerName, s.opts.EngineName, s.opts.PoolSize)
		if err != nil {
			return err
		}
		if err := s.workerRepo.Create(ctx, worker); err != nil {
			return err
		}
	default:
		return err
	}

	s.logger.Info("worker_registered", fmt.Sprintf("Worker %s registered", s.opts.WorkerName), "", map[string]interface{}{
		"engine":    s.opts.EngineName,
		"pool_size": s.opts.PoolSize,
	})

	// Запуск Heartbeat в фоне
	go s.heartbeatLoop(ctx)

	return nil
}

func (s *Service) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.workerRepo.UpdateHeartbeat(ctx, s.opts.WorkerName); err != nil {
				s.logger.Error("heartbeat_failed", "Failed to update heartbeat", "", nil, err)
			} else {
				s.logger.Debug("heartbeat_sent", "Heartbeat sent", "", nil)
			}
		}
	}
}

func (s *Service) Shutdown(ctx context.Context) error {
	worker, err := s.workerRepo.FindByName(ctx, s.opts.WorkerName)
	if err != nil {
		return err
	}
	worker.SetOffline()
	return s.workerRepo.Update(ctx, worker)
}

// ProcessJob slices one order. Every failure after the order is claimed is
// written back as slice error, so a claimed order never stays in slicing.
// A nil return means the message may be acknowledged.
func (s *Service) ProcessJob(ctx context.Context, msg interfaces.SliceJobMessage) error {
	metrics.SliceJobStarted()
	defer metrics.SliceJobFinished()

	// 1. Захват заказа. Повторная доставка или ручная загрузка админом
	// дают конфликт, такое сообщение просто подтверждаем.
	if _, err := s.orders.BeginSlicing(ctx, msg.OrderID, s.opts.WorkerName); err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("slice_job_skipped", "Order is no longer waiting for slicing", msg.OrderID, map[string]interface{}{"reason": err.Error()})
			return nil
		}
		return fmt.Errorf("claiming order %s: %w", msg.OrderID, err)
	}

	s.logger.Debug("slice_job_started", fmt.Sprintf("Slicing %s", msg.FileName), msg.OrderID, map[string]interface{}{
		"file_type":  msg.FileType,
		"size_bytes": msg.FileSizeBytes,
	})

	// 2. Нарезка
	outcome := s.slice(ctx, msg)

	// 3. Запись результата
	if _, err := s.orders.ApplySliceResult(ctx, msg.OrderID, s.opts.WorkerName, outcome); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Info("slice_result_discarded", "Order was completed elsewhere while slicing", msg.OrderID, nil)
			return nil
		}
		return fmt.Errorf("recording slice result for %s: %w", msg.OrderID, err)
	}

	if outcome.Status == domain.SliceDone {
		if err := s.workerRepo.IncrementOrdersProcessed(ctx, s.opts.WorkerName); err != nil {
			s.logger.Error("db_error", "Failed to increment worker stats", "", nil, err)
		}
	}

	s.logger.Debug("slice_job_completed", fmt.Sprintf("Order %s sliced", msg.OrderID), msg.OrderID, map[string]interface{}{"slice_status": outcome.Status})
	return nil
}

func (s *Service) slice(ctx context.Context, msg interfaces.SliceJobMessage) interfaces.SliceOutcome {
	data, err := s.files.Fetch(ctx, msg.FileKey)
	if err != nil {
		s.logger.Error("model_fetch_failed", "Failed to read model from storage", msg.OrderID, map[string]interface{}{"file_key": msg.FileKey}, err)
		return failed("model file could not be read from storage")
	}

	res := s.engine.Slice(ctx, data, msg.FileType)
	switch res.Status {
	case domain.SliceDone:
	case domain.SliceError:
		return failed(res.Err.Error())
	default:
		// Pending or unsupported here means the job should never have been queued.
		return failed(fmt.Sprintf("file type %q cannot be sliced by this worker", msg.FileType))
	}

	stored, err := s.files.StoreSliced(ctx, msg.OrderID, bytes.NewReader(res.Gcode), int64(len(res.Gcode)))
	if err != nil {
		s.logger.Error("upload_failed", "Failed to store sliced toolpath", msg.OrderID, nil, err)
		return failed("toolpath could not be stored")
	}

	return interfaces.SliceOutcome{
		Status:   domain.SliceDone,
		GcodeURL: stored.URL,
		Stats:    res.Stats,
	}
}

func failed(reason string) interfaces.SliceOutcome {
	return interfaces.SliceOutcome{Status: domain.SliceError, Error: reason}
}
