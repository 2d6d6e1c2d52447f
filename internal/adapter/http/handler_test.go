package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/interfaces"
)

var testSecret = []byte("test-secret")

type fakeOrderService struct {
	interfaces.CustomOrderService
	err        error
	identity   domain.Identity
	createCmd  interfaces.CreateOrderCommand
	uploaded   []byte
	uploadName string
	updateCmd  interfaces.UpdateOrderCommand
	deletedID  string
}

func (f *fakeOrderService) SignUpload(_ context.Context, id domain.Identity, fileName string) (domain.UploadCredential, error) {
	f.identity = id
	return domain.UploadCredential{Key: "3d-files/x-" + fileName, Signature: "sig"}, f.err
}

func (f *fakeOrderService) CreateFromUpload(_ context.Context, id domain.Identity, cmd interfaces.CreateOrderCommand, file interfaces.UploadedFile) (*domain.CustomOrder, error) {
	f.identity, f.createCmd, f.uploadName = id, cmd, file.FileName
	f.uploaded, _ = io.ReadAll(file.Content)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CustomOrder{ID: "o-1", CustomerName: cmd.CustomerName, Quantity: cmd.Quantity}, nil
}

func (f *fakeOrderService) CreateFromURL(_ context.Context, id domain.Identity, cmd interfaces.CreateOrderCommand) (*domain.CustomOrder, error) {
	f.identity, f.createCmd = id, cmd
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CustomOrder{ID: "o-2", FileURL: cmd.FileURL}, nil
}

func (f *fakeOrderService) Get(_ context.Context, id domain.Identity, orderID string) (*domain.CustomOrder, error) {
	f.identity = id
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CustomOrder{ID: orderID}, nil
}

func (f *fakeOrderService) List(_ context.Context, id domain.Identity) ([]*domain.CustomOrder, error) {
	f.identity = id
	return nil, f.err
}

func (f *fakeOrderService) Update(_ context.Context, id domain.Identity, orderID string, cmd interfaces.UpdateOrderCommand) (*domain.CustomOrder, error) {
	f.identity, f.updateCmd = id, cmd
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CustomOrder{ID: orderID}, nil
}

func (f *fakeOrderService) Delete(_ context.Context, _ domain.Identity, orderID string) error {
	f.deletedID = orderID
	return f.err
}

func (f *fakeOrderService) AttachToolpath(_ context.Context, id domain.Identity, orderID string, file interfaces.UploadedFile) (*domain.CustomOrder, error) {
	f.identity, f.uploadName = id, file.FileName
	f.uploaded, _ = io.ReadAll(file.Content)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CustomOrder{ID: orderID, SliceStatus: domain.SliceDone}, nil
}

type fakeTracking struct {
	history []*domain.StatusLog
	workers []*interfaces.TrackingWorkerResponse
}

func (f *fakeTracking) GetOrderHistory(_ context.Context, _ domain.Identity, orderID string) ([]*domain.StatusLog, error) {
	if orderID != "o-1" {
		return nil, domain.ErrNotFound
	}
	return f.history, nil
}

func (f *fakeTracking) GetWorkersStatus(context.Context) ([]*interfaces.TrackingWorkerResponse, error) {
	return f.workers, nil
}

func newTestRouter(svc *fakeOrderService, tracking *fakeTracking) http.Handler {
	lgr := logger.Nop()
	return NewRouter(
		NewCustomOrderHandler(svc, lgr, 1<<20, 2<<20),
		NewTrackingHandler(tracking, lgr),
		AuthMiddleware(testSecret, "printforge", lgr),
		nil,
		lgr,
	)
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	claims := &Claims{
		Email: subject + "@example.com",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "printforge",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + signed
}

func do(t *testing.T, h http.Handler, method, path, auth, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAuthRequired(t *testing.T) {
	h := newTestRouter(&fakeOrderService{}, &fakeTracking{})

	rec := do(t, h, http.MethodGet, "/custom-orders", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/custom-orders", "Bearer not-a-token", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "cust-1", Issuer: "printforge", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString(testSecret)
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/custom-orders", "Bearer "+signed, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityFromToken(t *testing.T) {
	svc := &fakeOrderService{}
	h := newTestRouter(svc, &fakeTracking{})

	rec := do(t, h, http.MethodGet, "/custom-orders", token(t, "admin-1", "admin"), "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, domain.Identity{UserID: "admin-1", Email: "admin-1@example.com", Role: domain.RoleAdmin}, svc.identity)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateOrderMultipart(t *testing.T) {
	svc := &fakeOrderService{}
	h := newTestRouter(svc, &fakeTracking{})
	body, ct := multipartBody(t, map[string]string{
		"customerName":  "Ada Lovelace",
		"customerEmail": "ada@example.com",
		"material":      "petg",
		"quantity":      "3",
		"orderDetails":  "matte\nno supports",
	}, "bracket.stl", []byte("solid bracket"))

	rec := do(t, h, http.MethodPost, "/custom-orders", token(t, "cust-1", "customer"), ct, body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "bracket.stl", svc.uploadName)
	assert.Equal(t, "solid bracket", string(svc.uploaded))
	assert.Equal(t, domain.MaterialPETG, svc.createCmd.Material)
	assert.Equal(t, 3, svc.createCmd.Quantity)
	require.Len(t, svc.createCmd.OrderDetails, 2)
	assert.JSONEq(t, `"matte"`, string(svc.createCmd.OrderDetails[0]))
	assert.Equal(t, domain.RoleCustomer, svc.identity.Role)
}

func TestCreateOrderMultipartValidation(t *testing.T) {
	svc := &fakeOrderService{}
	h := newTestRouter(svc, &fakeTracking{})
	body, ct := multipartBody(t, map[string]string{
		"customerName":  "Ada",
		"customerEmail": "not-an-email",
		"quantity":      "many",
	}, "", nil)

	rec := do(t, h, http.MethodPost, "/custom-orders", token(t, "cust-1", "customer"), ct, body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	fields := map[string]bool{}
	for _, f := range resp.Errors {
		fields[f.Field] = true
	}
	assert.True(t, fields["customerEmail"])
	assert.True(t, fields["quantity"])
	assert.True(t, fields["file"])
	assert.Empty(t, svc.uploadName)
}

func TestCreateOrderDirectUpload(t *testing.T) {
	svc := &fakeOrderService{}
	h := newTestRouter(svc, &fakeTracking{})
	body := `{"customerName":"Ada","customerEmail":"ada@example.com","orderDetails":["a","b"],"fileURL":"https://storage.googleapis.com/forge-models/3d-files/a.stl"}`

	rec := do(t, h, http.MethodPost, "/custom-orders", token(t, "cust-1", "customer"), "application/json", strings.NewReader(body))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, svc.createCmd.Quantity)
	assert.Len(t, svc.createCmd.OrderDetails, 2)
	assert.Equal(t, "https://storage.googleapis.com/forge-models/3d-files/a.stl", svc.createCmd.FileURL)
}

func TestCreateOrderRequiresFile(t *testing.T) {
	h := newTestRouter(&fakeOrderService{}, &fakeTracking{})
	body := `{"customerName":"Ada","customerEmail":"ada@example.com"}`

	rec := do(t, h, http.MethodPost, "/custom-orders", token(t, "cust-1", "customer"), "application/json", strings.NewReader(body))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "fileURL", resp.Errors[0].Field)
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("quantity", "must be positive"), http.StatusBadRequest},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrOrderLocked, http.StatusConflict},
		{domain.ErrInvalidStatusTransition, http.StatusConflict},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrUpload, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		h := newTestRouter(&fakeOrderService{err: tt.err}, &fakeTracking{})
		rec := do(t, h, http.MethodGet, "/custom-orders/o-1", token(t, "cust-1", "customer"), "", nil)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestUpdateOrder(t *testing.T) {
	svc := &fakeOrderService{}
	h := newTestRouter(svc, &fakeTracking{})
	body := `{"quantity":4,"material":"abs","status":"Reviewing","sliceStatus":"error","confirmedPrice":19.5}`

	rec := do(t, h, http.MethodPatch, "/custom-orders/o-9", token(t, "admin-1", "admin"), "application/json", strings.NewReader(body))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cmd := svc.updateCmd
	require.NotNil(t, cmd.Quantity)
	assert.Equal(t, 4, *cmd.Quantity)
	require.NotNil(t, cmd.Material)
	assert.Equal(t, domain.MaterialABS, *cmd.Material)
	require.NotNil(t, cmd.Status)
	assert.Equal(t, domain.StatusReviewing, *cmd.Status)
	require.NotNil(t, cmd.SliceStatus)
	assert.Equal(t, domain.SliceError, *cmd.SliceStatus)
	assert.Nil(t, cmd.CustomerName)
	assert.Nil(t, cmd.OrderDetails)

	rec = do(t, h, http.MethodPut, "/custom-orders/o-9", token(t, "admin-1", "admin"), "application/json", strings.NewReader(`{"notes":"rush"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.updateCmd.Notes)
	assert.Equal(t, "rush", *svc.updateCmd.Notes)
}

func TestUpdateOrderValidation(t *testing.T) {
	svc := &fakeOrderService{}
	h := newTestRouter(svc, &fakeTracking{})

	rec := do(t, h, http.MethodPatch, "/custom-orders/o-9", token(t, "cust-1", "customer"), "application/json", strings.NewReader(`{"customerEmail":"nope"}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "customerEmail", resp.Errors[0].Field)
	assert.Nil(t, svc.updateCmd.CustomerEmail)
}

func TestDeleteOrder(t *testing.T) {
	svc := &fakeOrderService{}
	h := newTestRouter(svc, &fakeTracking{})

	rec := do(t, h, http.MethodDelete, "/custom-orders/o-3", token(t, "cust-1", "customer"), "", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "o-3", svc.deletedID)
}

func TestAttachToolpath(t *testing.T) {
	svc := &fakeOrderService{}
	h := newTestRouter(svc, &fakeTracking{})

	body, ct := multipartBody(t, nil, "part.gcode", []byte("; filament used [g] = 12\n"))
	rec := do(t, h, http.MethodPost, "/custom-orders/o-1/gcode", token(t, "cust-1", "customer"), ct, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body, ct = multipartBody(t, nil, "part.gcode", []byte("; filament used [g] = 12\n"))
	rec = do(t, h, http.MethodPost, "/custom-orders/o-1/gcode", token(t, "admin-1", "admin"), ct, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "part.gcode", svc.uploadName)
	assert.Contains(t, rec.Body.String(), `"sliceStatus":"done"`)
}

func TestSignUpload(t *testing.T) {
	svc := &fakeOrderService{}
	h := newTestRouter(svc, &fakeTracking{})

	rec := do(t, h, http.MethodPost, "/custom-orders/uploads/sign", token(t, "cust-1", "customer"), "application/json", strings.NewReader(`{"fileName":"gear.stl"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"key":"3d-files/x-gear.stl"`)

	rec = do(t, h, http.MethodPost, "/custom-orders/uploads/sign", token(t, "cust-1", "customer"), "application/json", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackingRoutes(t *testing.T) {
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracking := &fakeTracking{
		history: []*domain.StatusLog{{OrderID: "o-1", Axis: domain.AxisSlice, Value: "done", ChangedBy: "slicer-1", ChangedAt: when}},
		workers: []*interfaces.TrackingWorkerResponse{{WorkerName: "slicer-1", Engine: "prusa-slicer", PoolSize: 2, Status: domain.WorkerStatusOnline, LastSeen: when}},
	}
	h := newTestRouter(&fakeOrderService{}, tracking)
	auth := token(t, "cust-1", "customer")

	rec := do(t, h, http.MethodGet, "/custom-orders/o-1/history", auth, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"axis":"slice","value":"done","changedBy":"slicer-1","changedAt":"2026-03-01T12:00:00Z"}]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/custom-orders/o-2/history", auth, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/workers/status", auth, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"workerName":"slicer-1","engine":"prusa-slicer","poolSize":2,"status":"online","ordersProcessed":0,"lastSeen":"2026-03-01T12:00:00Z"}]`, rec.Body.String())
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	h := newTestRouter(&fakeOrderService{}, &fakeTracking{})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", "", "", nil).Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := do(t, h, http.MethodGet, "/", "", "", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeError(t, rec).Error)
}
