package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

// multipartOverhead is the room left for form fields and boundaries on top
// of the file size limit.
const multipartOverhead = 1 << 20

type CustomOrderHandler struct {
	service       interfaces.CustomOrderService
	logger        logger.Logger
	maxModelBytes int64
	maxGcodeBytes int64
}

func NewCustomOrderHandler(service interfaces.CustomOrderService, logger logger.Logger, maxModelBytes, maxGcodeBytes int64) *CustomOrderHandler {
	return &CustomOrderHandler{
		service:       service,
		logger:        logger,
		maxModelBytes: maxModelBytes,
		maxGcodeBytes: maxGcodeBytes,
	}
}

type signUploadRequest struct {
	FileName string `json:"fileName" validate:"required,max=255"`
}

// createOrderRequest is shared by the JSON and multipart forms of create.
type createOrderRequest struct {
	CustomerName  string          `json:"customerName" validate:"required,max=100"`
	CustomerEmail string          `json:"customerEmail" validate:"required,email"`
	OrderDetails  json.RawMessage `json:"orderDetails"`
	Material      string          `json:"material" validate:"omitempty,oneof=PLA PETG ABS TPU ASA NYLON RESIN"`
	Color         string          `json:"color" validate:"max=50"`
	Quantity      *int            `json:"quantity" validate:"omitempty,min=1"`
	Notes         string          `json:"notes" validate:"max=2000"`
	FileURL       string          `json:"fileURL" validate:"omitempty,url"`
}

type updateOrderRequest struct {
	CustomerName   *string         `json:"customerName" validate:"omitempty,max=100"`
	CustomerEmail  *string         `json:"customerEmail" validate:"omitempty,email"`
	OrderDetails   json.RawMessage `json:"orderDetails"`
	Material       *string         `json:"material" validate:"omitempty,oneof=PLA PETG ABS TPU ASA NYLON RESIN"`
	Color          *string         `json:"color" validate:"omitempty,max=50"`
	Quantity       *int            `json:"quantity" validate:"omitempty,min=1"`
	Notes          *string         `json:"notes" validate:"omitempty,max=2000"`
	ConfirmedPrice *float64        `json:"confirmedPrice" validate:"omitempty,gte=0"`
	Status         *string         `json:"status"`
	SliceStatus    *string         `json:"sliceStatus"`
}

// Register mounts the custom order routes; auth wraps every one of them.
func (h *CustomOrderHandler) Register(mux *http.ServeMux, auth func(http.Handler) http.Handler) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, auth(fn))
	}
	route("POST /custom-orders/uploads/sign", h.SignUpload)
	route("POST /custom-orders", h.CreateOrder)
	route("GET /custom-orders", h.ListOrders)
	route("GET /custom-orders/{id}", h.GetOrder)
	route("PATCH /custom-orders/{id}", h.UpdateOrder)
	route("PUT /custom-orders/{id}", h.UpdateOrder)
	route("DELETE /custom-orders/{id}", h.DeleteOrder)
	route("POST /custom-orders/{id}/gcode", h.AttachToolpath)
}

func (h *CustomOrderHandler) SignUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req signUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := validateRequest(req); err != nil {
		respondServiceError(w, err)
		return
	}

	cred, err := h.service.SignUpload(r.Context(), id, req.FileName)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cred)
}

// CreateOrder accepts a multipart form carrying the model file, or a JSON
// body whose fileURL points at a direct upload.
func (h *CustomOrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.createFromUpload(w, r, id)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	req.Material = strings.ToUpper(strings.TrimSpace(req.Material))
	if err := validateRequest(req); err != nil {
		h.logger.Error("validation_failed", "Custom order validation failed", RequestIDFrom(r.Context()), nil, err)
		respondServiceError(w, err)
		return
	}
	if req.FileURL == "" {
		respondError(w, "Validation failed", http.StatusBadRequest, []domain.FieldError{
			{Field: "fileURL", Message: "a file upload or fileURL is required"},
		})
		return
	}

	order, err := h.service.CreateFromURL(r.Context(), id, req.command())
	if err != nil {
		h.logger.Error("order_creation_failed", "Failed to create custom order", RequestIDFrom(r.Context()), nil, err)
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *CustomOrderHandler) createFromUpload(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxModelBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		h.respondFormError(w, err, h.maxModelBytes)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := createOrderRequest{
		CustomerName:  r.FormValue("customerName"),
		CustomerEmail: r.FormValue("customerEmail"),
		Material:      strings.ToUpper(strings.TrimSpace(r.FormValue("material"))),
		Color:         r.FormValue("color"),
		Notes:         r.FormValue("notes"),
	}
	if details := r.FormValue("orderDetails"); details != "" {
		req.OrderDetails, _ = json.Marshal(details)
	}

	verr := &domain.ValidationError{}
	if raw := strings.TrimSpace(r.FormValue("quantity")); raw != "" {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			verr.Add("quantity", "must be a whole number")
		} else {
			req.Quantity = &qty
		}
	}
	if err := validateRequest(req); err != nil {
		var fieldErr *domain.ValidationError
		if !errors.As(err, &fieldErr) {
			respondServiceError(w, err)
			return
		}
		verr.Fields = append(verr.Fields, fieldErr.Fields...)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		verr.Add("file", "a model file is required")
	}
	if !verr.Empty() {
		h.logger.Error("validation_failed", "Custom order validation failed", RequestIDFrom(r.Context()), nil, verr)
		respondServiceError(w, verr)
		return
	}
	defer file.Close()

	order, err := h.service.CreateFromUpload(r.Context(), id, req.command(), interfaces.UploadedFile{
		FileName: header.Filename,
		Size:     header.Size,
		Content:  file,
	})
	if err != nil {
		h.logger.Error("order_creation_failed", "Failed to create custom order", RequestIDFrom(r.Context()), nil, err)
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *CustomOrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	orders, err := h.service.List(r.Context(), id)
	if err != nil {
		h.logger.Error("db_query_failed", "Failed to list custom orders", RequestIDFrom(r.Context()), nil, err)
		respondServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []*domain.CustomOrder{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *CustomOrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *CustomOrderHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if req.Material != nil {
		m := strings.ToUpper(strings.TrimSpace(*req.Material))
		req.Material = &m
	}
	if err := validateRequest(req); err != nil {
		respondServiceError(w, err)
		return
	}

	order, err := h.service.Update(r.Context(), id, r.PathValue("id"), req.command())
	if err != nil {
		h.logger.Error("order_update_failed", "Failed to update custom order", RequestIDFrom(r.Context()), map[string]interface{}{"order_id": r.PathValue("id")}, err)
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *CustomOrderHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, r.PathValue("id")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomOrderHandler) AttachToolpath(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if !id.IsAdmin() {
		respondError(w, "only administrators may attach toolpaths", http.StatusForbidden, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxGcodeBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		h.respondFormError(w, err, h.maxGcodeBytes)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "Validation failed", http.StatusBadRequest, []domain.FieldError{
			{Field: "file", Message: "a toolpath file is required"},
		})
		return
	}
	defer file.Close()

	order, err := h.service.AttachToolpath(r.Context(), id, r.PathValue("id"), interfaces.UploadedFile{
		FileName: header.Filename,
		Size:     header.Size,
		Content:  file,
	})
	if err != nil {
		h.logger.Error("toolpath_attach_failed", "Failed to attach toolpath", RequestIDFrom(r.Context()), map[string]interface{}{"order_id": r.PathValue("id")}, err)
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *CustomOrderHandler) identity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		respondError(w, "authentication required", http.StatusUnauthorized, nil)
	}
	return id, ok
}

func (h *CustomOrderHandler) respondFormError(w http.ResponseWriter, err error, limit int64) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, "Validation failed", http.StatusBadRequest, []domain.FieldError{
			{Field: "file", Message: fmt.Sprintf("file exceeds the %d MB limit", limit>>20)},
		})
		return
	}
	respondError(w, "Invalid multipart form", http.StatusBadRequest, nil)
}

func (req createOrderRequest) command() interfaces.CreateOrderCommand {
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	return interfaces.CreateOrderCommand{
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		OrderDetails:  orderDetails(req.OrderDetails),
		Material:      domain.Material(req.Material),
		Color:         strings.TrimSpace(req.Color),
		Quantity:      qty,
		Notes:         req.Notes,
		FileURL:       strings.TrimSpace(req.FileURL),
	}
}

func (req updateOrderRequest) command() interfaces.UpdateOrderCommand {
	cmd := interfaces.UpdateOrderCommand{
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		Color:          req.Color,
		Quantity:       req.Quantity,
		Notes:          req.Notes,
		ConfirmedPrice: req.ConfirmedPrice,
	}
	if len(req.OrderDetails) > 0 {
		details := orderDetails(req.OrderDetails)
		cmd.OrderDetails = &details
	}
	if req.Material != nil {
		m := domain.Material(*req.Material)
		cmd.Material = &m
	}
	if req.Status != nil {
		s := domain.Status(*req.Status)
		cmd.Status = &s
	}
	if req.SliceStatus != nil {
		s := domain.SliceStatus(*req.SliceStatus)
		cmd.SliceStatus = &s
	}
	return cmd
}

// orderDetails accepts a JSON array or a string holding an array or
// newline separated lines.
func orderDetails(raw json.RawMessage) []json.RawMessage {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return domain.ParseOrderDetails(text)
	}
	return domain.ParseOrderDetails(string(raw))
}
