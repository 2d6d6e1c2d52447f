package order

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/gcode"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
	"github.com/YelzhanWeb/printforge/internal/metrics"
	"github.com/YelzhanWeb/printforge/internal/pricing"
	"github.com/YelzhanWeb/printforge/internal/slicer"
	"github.com/YelzhanWeb/printforge/internal/upload"
)

// patchAttempts bounds how often a guarded customer edit is rebuilt after
// losing a race with a slicing update.
const patchAttempts = 3

type Service struct {
	repo           interfaces.CustomOrderRepository
	publisher      interfaces.MessagePublisher
	uploads        *upload.Coordinator
	estimator      *pricing.Estimator
	slicingEnabled bool
	windowBytes    int
	logger         logger.Logger
}

type Options struct {
	// SlicingEnabled is false when no engine is configured; orders then
	// stay pending for manual processing and no jobs are queued.
	SlicingEnabled bool
	WindowBytes    int
}

func NewService(
	repo interfaces.CustomOrderRepository,
	publisher interfaces.MessagePublisher,
	uploads *upload.Coordinator,
	estimator *pricing.Estimator,
	opts Options,
	logger logger.Logger,
) *Service {
	if opts.WindowBytes <= 0 {
		opts.WindowBytes = gcode.DefaultWindow
	}
	return &Service{
		repo:           repo,
		publisher:      publisher,
		uploads:        uploads,
		estimator:      estimator,
		slicingEnabled: opts.SlicingEnabled,
		windowBytes:    opts.WindowBytes,
		logger:         logger,
	}
}

func (s *Service) SignUpload(ctx context.Context, id domain.Identity, fileName string) (domain.UploadCredential, error) {
	cred, err := s.uploads.SignUpload(ctx, fileName)
	if err != nil {
		s.logger.Error("upload_sign_failed", "Failed to issue upload credential", "", map[string]interface{}{
			"user_id":   id.UserID,
			"file_name": fileName,
		}, err)
		return domain.UploadCredential{}, err
	}
	return cred, nil
}

// CreateFromUpload validates the order and the streamed file, stores the
// file and creates the order. Nothing is stored when validation fails.
func (s *Service) CreateFromUpload(ctx context.Context, id domain.Identity, cmd interfaces.CreateOrderCommand, file interfaces.UploadedFile) (*domain.CustomOrder, error) {
	verr := validateCommand(cmd)
	if _, err := s.uploads.ValidateModel(file.FileName, file.Size); err != nil {
		var fileErr *domain.ValidationError
		if !errors.As(err, &fileErr) {
			return nil, err
		}
		verr.Fields = append(verr.Fields, fileErr.Fields...)
	}
	if !verr.Empty() {
		s.logger.Error("validation_failed", "Custom order validation failed", "", nil, verr)
		return nil, verr
	}

	stored, err := s.uploads.StoreModel(ctx, file)
	if err != nil {
		s.logger.Error("upload_failed", "Failed to store model file", "", map[string]interface{}{"file_name": file.FileName}, err)
		return nil, err
	}

	return s.create(ctx, id, cmd, stored, "proxied")
}

// CreateFromURL creates an order for a file the client uploaded directly.
// The URL is verified against storage before it is persisted.
func (s *Service) CreateFromURL(ctx context.Context, id domain.Identity, cmd interfaces.CreateOrderCommand) (*domain.CustomOrder, error) {
	verr := validateCommand(cmd)
	if strings.TrimSpace(cmd.FileURL) == "" {
		verr.Add("fileURL", "a file upload or fileURL is required")
	}
	if !verr.Empty() {
		s.logger.Error("validation_failed", "Custom order validation failed", "", nil, verr)
		return nil, verr
	}

	stored, err := s.uploads.VerifyClientObject(ctx, cmd.FileURL)
	if err != nil {
		s.logger.Error("upload_verification_failed", "Client supplied file URL was rejected", "", map[string]interface{}{"file_url": cmd.FileURL}, err)
		return nil, err
	}

	return s.create(ctx, id, cmd, stored, "direct")
}

func (s *Service) create(ctx context.Context, id domain.Identity, cmd interfaces.CreateOrderCommand, stored upload.StoredFile, mode string) (*domain.CustomOrder, error) {
	material := cmd.Material
	if material == "" {
		material = domain.MaterialPLA
	}

	// 1. Оценка стоимости по размеру файла
	estimate := s.estimator.Estimate(pricing.Input{
		FileSizeBytes: stored.Size,
		Material:      material,
		Quantity:      cmd.Quantity,
		FileType:      stored.FileType,
	})

	// 2. Создание доменной сущности
	order, err := domain.NewCustomOrder(domain.NewOrderParams{
		CustomerID:    id.UserID,
		CustomerName:  cmd.CustomerName,
		CustomerEmail: cmd.CustomerEmail,
		OrderDetails:  cmd.OrderDetails,
		Material:      material,
		Color:         strings.TrimSpace(cmd.Color),
		Quantity:      cmd.Quantity,
		Notes:         cmd.Notes,
		FileURL:       stored.URL,
		FileKey:       stored.Key,
		FileName:      stored.FileName,
		FileType:      stored.FileType,
		FileSizeBytes: stored.Size,
	}, estimate)
	if err != nil {
		s.logger.Error("validation_failed", "Custom order validation failed", "", nil, err)
		return nil, err
	}

	if !slicer.Sliceable(order.FileType) {
		if err := order.TransitionSlice(domain.SliceUnsupported); err != nil {
			return nil, err
		}
	}

	// 3. Сохранение в БД
	if err := s.repo.Create(ctx, order); err != nil {
		s.logger.Error("db_transaction_failed", "Failed to create custom order", "", nil, err)
		return nil, err
	}
	metrics.OrderCreated(mode)
	s.logger.Info("order_created", "Custom order created", order.ID, map[string]interface{}{
		"mode":         mode,
		"file_type":    order.FileType,
		"slice_status": order.SliceStatus,
		"estimate_low": order.EstimatedCost.Low,
	})

	// 4. Постановка задачи на нарезку. Ошибка не отменяет заказ.
	if order.SliceStatus == domain.SlicePending && s.slicingEnabled {
		job := interfaces.SliceJobMessage{
			OrderID:       order.ID,
			FileKey:       order.FileKey,
			FileName:      order.FileName,
			FileType:      order.FileType,
			FileSizeBytes: order.FileSizeBytes,
			Material:      order.Material,
			Quantity:      order.Quantity,
			EnqueuedAt:    time.Now().UTC(),
		}
		if err := s.publisher.PublishSliceJob(ctx, job); err != nil {
			s.logger.Error("rabbitmq_publish_failed", "Failed to enqueue slice job; order stays pending", order.ID, nil, err)
		} else {
			s.logger.Debug("slice_job_enqueued", "Slice job published to RabbitMQ", order.ID, nil)
		}
	}

	s.notify(ctx, order.ID, domain.AxisStatus, "", string(order.Status), id.UserID, nil, nil)
	return order, nil
}

func (s *Service) Get(ctx context.Context, id domain.Identity, orderID string) (*domain.CustomOrder, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// Other customers' orders are reported as missing.
	if !order.VisibleTo(id) {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) List(ctx context.Context, id domain.Identity) ([]*domain.CustomOrder, error) {
	filter := interfaces.OrderFilter{CustomerID: id.UserID}
	if id.IsAdmin() {
		filter.CustomerID = ""
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) Delete(ctx context.Context, id domain.Identity, orderID string) error {
	if _, err := s.Get(ctx, id, orderID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, orderID); err != nil {
		return err
	}
	s.logger.Info("order_deleted", "Custom order deleted", orderID, map[string]interface{}{"deleted_by": id.UserID})
	return nil
}

// Update applies a partial edit. Customers may only touch content fields
// of their own unlocked orders; admins may also price the order and move
// either state axis along its transition table.
func (s *Service) Update(ctx context.Context, id domain.Identity, orderID string, cmd interfaces.UpdateOrderCommand) (*domain.CustomOrder, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.Get(ctx, id, orderID)
		if err != nil {
			return nil, err
		}

		patch, err := s.buildPatch(id, current, cmd)
		if err != nil {
			return nil, err
		}
		if patch.Empty() {
			return current, nil
		}

		updated, err := s.repo.Patch(ctx, orderID, patch, id.UserID)
		if errors.Is(err, domain.ErrConflict) && attempt < patchAttempts {
			s.logger.Debug("patch_conflict", "Order changed during update, retrying", orderID, map[string]interface{}{"attempt": attempt})
			continue
		}
		if err != nil {
			s.logger.Error("db_update_failed", "Failed to update custom order", orderID, nil, err)
			return nil, err
		}

		s.logger.Info("order_updated", "Custom order updated", orderID, map[string]interface{}{
			"updated_by": id.UserID,
			"admin":      id.IsAdmin(),
		})
		s.notifyChanges(ctx, current, updated, id.UserID)
		return updated, nil
	}
}

func (s *Service) buildPatch(id domain.Identity, current *domain.CustomOrder, cmd interfaces.UpdateOrderCommand) (domain.OrderPatch, error) {
	if !id.IsAdmin() {
		if cmd.ConfirmedPrice != nil || cmd.Status != nil || cmd.SliceStatus != nil {
			return domain.OrderPatch{}, fmt.Errorf("%w: only administrators may set price or status", domain.ErrForbidden)
		}
		if !current.CustomerEditable() {
			return domain.OrderPatch{}, domain.ErrOrderLocked
		}
	}

	// Validate the merged result so partial edits are checked in context.
	name, email := current.CustomerName, current.CustomerEmail
	material, quantity := current.Material, current.Quantity
	if cmd.CustomerName != nil {
		name = strings.TrimSpace(*cmd.CustomerName)
	}
	if cmd.CustomerEmail != nil {
		email = strings.TrimSpace(*cmd.CustomerEmail)
	}
	if cmd.Material != nil {
		material = *cmd.Material
	}
	if cmd.Quantity != nil {
		quantity = *cmd.Quantity
	}
	verr := domain.ValidateContent(name, email, material, quantity)
	if cmd.ConfirmedPrice != nil && *cmd.ConfirmedPrice < 0 {
		verr.Add("confirmedPrice", "confirmed price must not be negative")
	}
	if cmd.Status != nil && !cmd.Status.Valid() {
		verr.Add("status", "unknown status")
	}
	if cmd.SliceStatus != nil && !cmd.SliceStatus.Valid() {
		verr.Add("sliceStatus", "unknown slice status")
	}
	if !verr.Empty() {
		return domain.OrderPatch{}, verr
	}

	var patch domain.OrderPatch
	if cmd.CustomerName != nil && name != current.CustomerName {
		patch.CustomerName = &name
	}
	if cmd.CustomerEmail != nil && email != current.CustomerEmail {
		patch.CustomerEmail = &email
	}
	if cmd.OrderDetails != nil {
		patch.OrderDetails = cmd.OrderDetails
	}
	if cmd.Material != nil && material != current.Material {
		patch.Material = &material
	}
	if cmd.Color != nil && strings.TrimSpace(*cmd.Color) != current.Color {
		color := strings.TrimSpace(*cmd.Color)
		patch.Color = &color
	}
	if cmd.Quantity != nil && quantity != current.Quantity {
		patch.Quantity = &quantity
	}
	if cmd.Notes != nil && *cmd.Notes != current.Notes {
		patch.Notes = cmd.Notes
	}
	if cmd.ConfirmedPrice != nil {
		patch.ConfirmedPrice = cmd.ConfirmedPrice
	}

	if cmd.Status != nil && *cmd.Status != current.Status {
		if !current.CanTransitionTo(*cmd.Status) {
			return domain.OrderPatch{}, fmt.Errorf("%w: %s to %s", domain.ErrInvalidStatusTransition, current.Status, *cmd.Status)
		}
		patch.Status = cmd.Status
	}

	if cmd.SliceStatus != nil && *cmd.SliceStatus != current.SliceStatus {
		if !domain.CanTransitionSlice(current.SliceStatus, *cmd.SliceStatus) {
			return domain.OrderPatch{}, fmt.Errorf("%w: %s to %s", domain.ErrInvalidSliceTransition, current.SliceStatus, *cmd.SliceStatus)
		}
		patch.SliceStatus = cmd.SliceStatus
	}

	// A changed material or quantity re-prices the order from the best data
	// available, measured grams when the toolpath has them.
	if patch.Material != nil || patch.Quantity != nil {
		estimate := s.estimator.ForOrder(pricing.Input{
			FileSizeBytes: current.FileSizeBytes,
			Material:      material,
			Quantity:      quantity,
			FileType:      current.FileType,
		}, current.GcodeStats)
		patch.EstimatedCost = &estimate
	}

	// Slice-dependent writes only land if the slice state is still the one
	// they were computed from.
	if patch.SliceStatus != nil || patch.EstimatedCost != nil {
		patch.ExpectSliceStatus = []domain.SliceStatus{current.SliceStatus}
	}
	return patch, nil
}

// AttachToolpath stores an admin-supplied toolpath, reads its metadata and
// forces the order to done whatever its slice state was.
func (s *Service) AttachToolpath(ctx context.Context, id domain.Identity, orderID string, file interfaces.UploadedFile) (*domain.CustomOrder, error) {
	if !id.IsAdmin() {
		return nil, fmt.Errorf("%w: only administrators may attach toolpaths", domain.ErrForbidden)
	}
	current, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	window := gcode.NewWindowBuffer(s.windowBytes)
	if file.Content != nil {
		file.Content = io.TeeReader(file.Content, window)
	}
	stored, err := s.uploads.StoreToolpath(ctx, file)
	if err != nil {
		s.logger.Error("upload_failed", "Failed to store toolpath", orderID, nil, err)
		return nil, err
	}

	stats := gcode.ParseStats(window.String())
	attached := *current
	attached.AttachToolpath(stored.URL, stats)
	estimate := s.estimator.ForOrder(pricing.Input{
		FileSizeBytes: current.FileSizeBytes,
		Material:      current.Material,
		Quantity:      current.Quantity,
		FileType:      current.FileType,
	}, stats)

	var noError *string
	updated, err := s.repo.Patch(ctx, orderID, domain.OrderPatch{
		SliceStatus:   &attached.SliceStatus,
		SliceError:    &noError,
		GcodeURL:      attached.GcodeURL,
		GcodeStats:    &attached.GcodeStats,
		EstimatedCost: &estimate,
	}, id.UserID)
	if err != nil {
		s.logger.Error("db_update_failed", "Failed to attach toolpath", orderID, nil, err)
		return nil, err
	}

	s.logger.Info("toolpath_attached", "Admin attached toolpath", orderID, map[string]interface{}{
		"gcode_url":       stored.URL,
		"measured_grams":  stats.HasMeasuredGrams(),
		"previous_status": current.SliceStatus,
	})
	s.notifyChanges(ctx, current, updated, id.UserID)
	return updated, nil
}

func (s *Service) BeginSlicing(ctx context.Context, orderID, workerName string) (*domain.CustomOrder, error) {
	slicing := domain.SliceSlicing
	updated, err := s.repo.Patch(ctx, orderID, domain.OrderPatch{
		SliceStatus:       &slicing,
		ExpectSliceStatus: domain.SlicePredecessors(domain.SliceSlicing),
	}, workerName)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, orderID, domain.AxisSlice, string(domain.SlicePending), string(slicing), workerName, nil, nil)
	return updated, nil
}

// ApplySliceResult records a finished slicing attempt. The write only lands
// if the order is still slicing, so an admin attach made meanwhile wins.
func (s *Service) ApplySliceResult(ctx context.Context, orderID, workerName string, outcome interfaces.SliceOutcome) (*domain.CustomOrder, error) {
	if outcome.Status != domain.SliceDone && outcome.Status != domain.SliceError {
		return nil, fmt.Errorf("%w: slicing cannot finish as %s", domain.ErrInvalidSliceTransition, outcome.Status)
	}

	current, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	status := outcome.Status
	patch := domain.OrderPatch{
		SliceStatus:       &status,
		ExpectSliceStatus: domain.SlicePredecessors(status),
	}

	if status == domain.SliceDone {
		gcodeURL := outcome.GcodeURL
		stats := outcome.Stats
		var noError *string
		patch.GcodeURL = &gcodeURL
		patch.GcodeStats = &stats
		patch.SliceError = &noError
		if stats.HasMeasuredGrams() {
			estimate := s.estimator.Refine(pricing.Input{
				FileSizeBytes: current.FileSizeBytes,
				Material:      current.Material,
				Quantity:      current.Quantity,
				FileType:      current.FileType,
			}, *stats.FilamentUsedG)
			patch.EstimatedCost = &estimate
		}
	} else {
		msg := outcome.Error
		if msg == "" {
			msg = "slicing failed"
		}
		msgPtr := &msg
		patch.SliceError = &msgPtr
	}

	updated, err := s.repo.Patch(ctx, orderID, patch, workerName)
	if err != nil {
		return nil, err
	}

	var gcodeURL, sliceErr *string
	if status == domain.SliceDone {
		gcodeURL = updated.GcodeURL
	} else {
		sliceErr = updated.SliceError
	}
	s.notify(ctx, orderID, domain.AxisSlice, string(current.SliceStatus), string(status), workerName, gcodeURL, sliceErr)
	return updated, nil
}

func (s *Service) notifyChanges(ctx context.Context, before, after *domain.CustomOrder, changedBy string) {
	if before.Status != after.Status {
		s.notify(ctx, after.ID, domain.AxisStatus, string(before.Status), string(after.Status), changedBy, nil, nil)
	}
	if before.SliceStatus != after.SliceStatus {
		s.notify(ctx, after.ID, domain.AxisSlice, string(before.SliceStatus), string(after.SliceStatus), changedBy, after.GcodeURL, after.SliceError)
	}
}

func (s *Service) notify(ctx context.Context, orderID string, axis domain.Axis, oldValue, newValue, changedBy string, gcodeURL, sliceErr *string) {
	msg := interfaces.StatusUpdateMessage{
		OrderID:   orderID,
		Axis:      axis,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedBy: changedBy,
		GcodeURL:  gcodeURL,
		Error:     sliceErr,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.PublishStatusUpdate(ctx, msg); err != nil {
		s.logger.Error("rabbitmq_publish_failed", "Failed to publish status update", orderID, nil, err)
		// Не блокируем процесс из-за ошибки уведомления
	}
}

func validateCommand(cmd interfaces.CreateOrderCommand) *domain.ValidationError {
	material := cmd.Material
	if material == "" {
		material = domain.MaterialPLA
	}
	return domain.ValidateContent(cmd.CustomerName, cmd.CustomerEmail, material, cmd.Quantity)
}
