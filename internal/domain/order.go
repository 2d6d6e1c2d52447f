package domain

import (
	"encoding/json"
	"net/mail"
	"strings"
	"time"
)

// CustomOrder represents a customer-submitted 3D print order.
type CustomOrder struct {
	ID             string            `json:"id"`
	CustomerID     string            `json:"customer"`
	CustomerName   string            `json:"customerName"`
	CustomerEmail  string            `json:"customerEmail"`
	OrderDetails   []json.RawMessage `json:"orderDetails"`
	Material       Material          `json:"material"`
	Color          string            `json:"color"`
	Quantity       int               `json:"quantity"`
	Notes          string            `json:"notes"`
	FileURL        string            `json:"fileURL"`
	FileKey        string            `json:"-"`
	FileName       string            `json:"fileName"`
	FileType       string            `json:"fileType"`
	FileSizeBytes  int64             `json:"fileSizeBytes"`
	SliceStatus    SliceStatus       `json:"sliceStatus"`
	SliceError     *string           `json:"sliceError,omitempty"`
	GcodeURL       *string           `json:"gcodeURL"`
	GcodeStats     GcodeStats        `json:"gcodeStats"`
	EstimatedCost  EstimatedCost     `json:"estimatedCost"`
	ConfirmedPrice *float64          `json:"confirmedPrice"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// NewOrderParams is everything needed to create an order once its file is stored.
type NewOrderParams struct {
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	OrderDetails  []json.RawMessage
	Material      Material
	Color         string
	Quantity      int
	Notes         string
	FileURL       string
	FileKey       string
	FileName      string
	FileType      string
	FileSizeBytes int64
}

// NewCustomOrder creates a new order with business rules applied
func NewCustomOrder(p NewOrderParams, estimate EstimatedCost) (*CustomOrder, error) {
	now := time.Now().UTC()
	order := &CustomOrder{
		CustomerID:    p.CustomerID,
		CustomerName:  strings.TrimSpace(p.CustomerName),
		CustomerEmail: strings.TrimSpace(p.CustomerEmail),
		OrderDetails:  p.OrderDetails,
		Material:      p.Material,
		Color:         p.Color,
		Quantity:      p.Quantity,
		Notes:         p.Notes,
		FileURL:       p.FileURL,
		FileKey:       p.FileKey,
		FileName:      p.FileName,
		FileType:      strings.ToLower(strings.TrimPrefix(p.FileType, ".")),
		FileSizeBytes: p.FileSizeBytes,
		SliceStatus:   SlicePending,
		EstimatedCost: estimate,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if order.Material == "" {
		order.Material = MaterialPLA
	}
	if order.OrderDetails == nil {
		order.OrderDetails = []json.RawMessage{}
	}

	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// Validate applies business validation rules
func (o *CustomOrder) Validate() error {
	verr := ValidateContent(o.CustomerName, o.CustomerEmail, o.Material, o.Quantity)

	if o.CustomerID == "" {
		verr.Add("customer", "customer reference is required")
	}
	if o.FileURL == "" {
		verr.Add("fileURL", "a stored model file is required")
	}
	if o.FileSizeBytes < 0 {
		verr.Add("fileSizeBytes", "file size must not be negative")
	}
	if o.EstimatedCost.Low > o.EstimatedCost.High {
		verr.Add("estimatedCost", "low estimate exceeds high estimate")
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

// ValidateContent checks the customer-editable fields of an order. The
// result is never nil; use Empty to test it.
func ValidateContent(name, email string, material Material, quantity int) *ValidationError {
	verr := &ValidationError{}
	if n := len(strings.TrimSpace(name)); n < 1 || n > 100 {
		verr.Add("customerName", "customer name must be 1-100 characters")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
		verr.Add("customerEmail", "a valid email address is required")
	}
	if !material.Valid() {
		verr.Add("material", "material must be one of: "+materialList())
	}
	if quantity < 1 {
		verr.Add("quantity", "quantity must be at least 1")
	}
	return verr
}

var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusReviewing, StatusCancelled},
	StatusReviewing:  {StatusQuoted, StatusCancelled},
	StatusQuoted:     {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransitionTo checks if the order can move to the new business status.
// Staying in the current status is always allowed.
func (o *CustomOrder) CanTransitionTo(newStatus Status) bool {
	if o.Status == newStatus {
		return true
	}
	for _, s := range statusTransitions[o.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the order to a new status
func (o *CustomOrder) TransitionTo(newStatus Status) error {
	if !newStatus.Valid() || !o.CanTransitionTo(newStatus) {
		return ErrInvalidStatusTransition
	}
	o.Status = newStatus
	o.UpdatedAt = time.Now().UTC()
	return nil
}

var sliceTransitions = map[SliceStatus][]SliceStatus{
	SlicePending:     {SliceSlicing, SliceUnsupported},
	SliceSlicing:     {SliceDone, SliceError},
	SliceDone:        {},
	SliceError:       {},
	SliceUnsupported: {},
}

// CanTransitionSlice reports whether sliceStatus may move from one state to another.
func CanTransitionSlice(from, to SliceStatus) bool {
	for _, s := range sliceTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SlicePredecessors returns every state that may move directly to the given one.
func SlicePredecessors(to SliceStatus) []SliceStatus {
	var from []SliceStatus
	for _, s := range []SliceStatus{SlicePending, SliceSlicing, SliceDone, SliceError, SliceUnsupported} {
		if CanTransitionSlice(s, to) {
			from = append(from, s)
		}
	}
	return from
}

func (o *CustomOrder) TransitionSlice(to SliceStatus) error {
	if !CanTransitionSlice(o.SliceStatus, to) {
		return ErrInvalidSliceTransition
	}
	o.SliceStatus = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// AttachToolpath records an admin-supplied toolpath. It forces the done state
// regardless of the previous slice status.
func (o *CustomOrder) AttachToolpath(gcodeURL string, stats GcodeStats) {
	o.GcodeURL = &gcodeURL
	o.GcodeStats = stats
	o.SliceStatus = SliceDone
	o.SliceError = nil
	o.UpdatedAt = time.Now().UTC()
}

// CustomerEditable reports whether the owner may still change the order.
func (o *CustomOrder) CustomerEditable() bool {
	return o.Status == StatusPending && o.ConfirmedPrice == nil
}

// VisibleTo reports whether the identity may see this order.
func (o *CustomOrder) VisibleTo(id Identity) bool {
	return id.IsAdmin() || o.CustomerID == id.UserID
}

// ParseOrderDetails accepts either a JSON array or newline separated text.
func ParseOrderDetails(raw string) []json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []json.RawMessage{}
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		if items == nil {
			return []json.RawMessage{}
		}
		return items
	}

	items = []json.RawMessage{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b, _ := json.Marshal(line)
		items = append(items, b)
	}
	return items
}

func materialList() string {
	names := make([]string, len(Materials))
	for i, m := range Materials {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
