package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

const orderColumns = `id, customer_id, customer_name, customer_email, order_details, material, color,
	quantity, notes, file_url, file_key, file_name, file_type, file_size_bytes, slice_status,
	slice_error, gcode_url, gcode_stats, estimated_cost, confirmed_price, status, created_at, updated_at`

type customOrderRepository struct {
	db DB
}

func NewCustomOrderRepository(db DB) interfaces.CustomOrderRepository {
	return &customOrderRepository{db: db}
}

func (r *customOrderRepository) Create(ctx context.Context, order *domain.CustomOrder) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	details, stats, estimate, err := encodeDocuments(order.OrderDetails, order.GcodeStats, order.EstimatedCost)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO custom_orders (id, customer_id, customer_name, customer_email, order_details, material,
		                           color, quantity, notes, file_url, file_key, file_name, file_type,
		                           file_size_bytes, slice_status, slice_error, gcode_url, gcode_stats,
		                           estimated_cost, confirmed_price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`
	_, err = tx.Exec(ctx, query,
		order.ID, order.CustomerID, order.CustomerName, order.CustomerEmail, details, order.Material,
		order.Color, order.Quantity, order.Notes, order.FileURL, order.FileKey, order.FileName, order.FileType,
		order.FileSizeBytes, order.SliceStatus, order.SliceError, order.GcodeURL, stats,
		estimate, order.ConfirmedPrice, order.Status, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert custom order: %w", err)
	}

	// Log initial state of both axes
	if err := logEvent(ctx, tx, order.ID, domain.AxisStatus, string(order.Status), order.CustomerID); err != nil {
		return err
	}
	if err := logEvent(ctx, tx, order.ID, domain.AxisSlice, string(order.SliceStatus), order.CustomerID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *customOrderRepository) FindByID(ctx context.Context, id string) (*domain.CustomOrder, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	query := `SELECT ` + orderColumns + ` FROM custom_orders WHERE id = $1`
	order, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load custom order: %w", err)
	}
	return order, nil
}

func (r *customOrderRepository) List(ctx context.Context, filter interfaces.OrderFilter) ([]*domain.CustomOrder, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := `SELECT ` + orderColumns + ` FROM custom_orders
		WHERE ($1::text = '' OR customer_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, filter.CustomerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.CustomOrder{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custom order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list custom orders: %w", err)
	}
	return orders, nil
}

// Patch locks the row, checks the slice guard and writes only the columns
// named by the patch. Both state axes are logged when they change.
func (r *customOrderRepository) Patch(ctx context.Context, id string, patch domain.OrderPatch, changedBy string) (*domain.CustomOrder, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM custom_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock custom order: %w", err)
	}
	if !patch.Matches(current) {
		return nil, fmt.Errorf("%w: slice status is %s", domain.ErrConflict, current.SliceStatus)
	}
	if patch.Empty() {
		return current, tx.Commit(ctx)
	}

	sets, args, err := patchColumns(patch)
	if err != nil {
		return nil, err
	}
	args = append(args, time.Now().UTC(), id)
	query := fmt.Sprintf(`UPDATE custom_orders SET %s, updated_at = $%d WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), orderColumns)

	updated, err := scanOrder(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to update custom order: %w", err)
	}

	if updated.Status != current.Status {
		if err := logEvent(ctx, tx, id, domain.AxisStatus, string(updated.Status), changedBy); err != nil {
			return nil, err
		}
	}
	if updated.SliceStatus != current.SliceStatus {
		if err := logEvent(ctx, tx, id, domain.AxisSlice, string(updated.SliceStatus), changedBy); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit custom order update: %w", err)
	}
	return updated, nil
}

func (r *customOrderRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM custom_orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete custom order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *customOrderRepository) GetStatusHistory(ctx context.Context, orderID string) ([]*domain.StatusLog, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, domain.ErrNotFound
	}

	query := `
		SELECT id, order_id, axis, value, changed_by, changed_at, notes
		FROM custom_order_events
		WHERE order_id = $1
		ORDER BY changed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	logs := []*domain.StatusLog{}
	for rows.Next() {
		var log domain.StatusLog
		if err := rows.Scan(&log.ID, &log.OrderID, &log.Axis, &log.Value, &log.ChangedBy, &log.ChangedAt, &log.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan status log: %w", err)
		}
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	return logs, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
}

func logEvent(ctx context.Context, db execer, orderID string, axis domain.Axis, value, changedBy string) error {
	query := `
		INSERT INTO custom_order_events (order_id, axis, value, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := db.Exec(ctx, query, orderID, axis, value, changedBy, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to log %s event: %w", axis, err)
	}
	return nil
}

// patchColumns turns the non-nil patch fields into SET fragments numbered
// from $1 along with their arguments.
func patchColumns(p domain.OrderPatch) ([]string, []any, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	addJSON := func(col string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", col, err)
		}
		add(col, string(b))
		return nil
	}

	if p.CustomerName != nil {
		add("customer_name", *p.CustomerName)
	}
	if p.CustomerEmail != nil {
		add("customer_email", *p.CustomerEmail)
	}
	if p.OrderDetails != nil {
		if err := addJSON("order_details", *p.OrderDetails); err != nil {
			return nil, nil, err
		}
	}
	if p.Material != nil {
		add("material", *p.Material)
	}
	if p.Color != nil {
		add("color", *p.Color)
	}
	if p.Quantity != nil {
		add("quantity", *p.Quantity)
	}
	if p.Notes != nil {
		add("notes", *p.Notes)
	}
	if p.SliceStatus != nil {
		add("slice_status", *p.SliceStatus)
	}
	if p.SliceError != nil {
		add("slice_error", *p.SliceError)
	}
	if p.GcodeURL != nil {
		add("gcode_url", *p.GcodeURL)
	}
	if p.GcodeStats != nil {
		if err := addJSON("gcode_stats", *p.GcodeStats); err != nil {
			return nil, nil, err
		}
	}
	if p.EstimatedCost != nil {
		if err := addJSON("estimated_cost", *p.EstimatedCost); err != nil {
			return nil, nil, err
		}
	}
	if p.ConfirmedPrice != nil {
		add("confirmed_price", *p.ConfirmedPrice)
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	return sets, args, nil
}

func encodeDocuments(details []json.RawMessage, stats domain.GcodeStats, estimate domain.EstimatedCost) (string, string, string, error) {
	if details == nil {
		details = []json.RawMessage{}
	}
	d, err := json.Marshal(details)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode order details: %w", err)
	}
	s, err := json.Marshal(stats)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode gcode stats: %w", err)
	}
	e, err := json.Marshal(estimate)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode estimated cost: %w", err)
	}
	return string(d), string(s), string(e), nil
}

func scanOrder(row Row) (*domain.CustomOrder, error) {
	var (
		order                    domain.CustomOrder
		details, stats, estimate []byte
	)
	err := row.Scan(
		&order.ID, &order.CustomerID, &order.CustomerName, &order.CustomerEmail, &details, &order.Material,
		&order.Color, &order.Quantity, &order.Notes, &order.FileURL, &order.FileKey, &order.FileName,
		&order.FileType, &order.FileSizeBytes, &order.SliceStatus, &order.SliceError, &order.GcodeURL,
		&stats, &estimate, &order.ConfirmedPrice, &order.Status, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(details, &order.OrderDetails); err != nil {
		return nil, fmt.Errorf("failed to decode order details: %w", err)
	}
	if order.OrderDetails == nil {
		order.OrderDetails = []json.RawMessage{}
	}
	if err := json.Unmarshal(stats, &order.GcodeStats); err != nil {
		return nil, fmt.Errorf("failed to decode gcode stats: %w", err)
	}
	if err := json.Unmarshal(estimate, &order.EstimatedCost); err != nil {
		return nil, fmt.Errorf("failed to decode estimated cost: %w", err)
	}
	return &order, nil
}
