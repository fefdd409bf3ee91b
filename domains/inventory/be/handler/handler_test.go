package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-commerce/domains/inventory/be/service"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/problem"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/queue"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

type mockService struct {
	createFn    func(ctx context.Context, input service.CreateProductInput) (service.Product, error)
	getFn       func(ctx context.Context, id uuid.UUID) (service.Product, error)
	listFn      func(ctx context.Context, page, pageSize int) ([]service.Product, error)
	setStockFn  func(ctx context.Context, id uuid.UUID, input service.SetStockInput) (service.Product, error)
	decrementFn func(ctx context.Context, id uuid.UUID) (service.DecrementResult, error)
}

func (m *mockService) CreateProduct(ctx context.Context, _ requesttrace.AuditInfo, input service.CreateProductInput) (service.Product, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, input)
}

func (m *mockService) GetProduct(ctx context.Context, _ requesttrace.AuditInfo, id uuid.UUID) (service.Product, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, id)
}

func (m *mockService) ListProducts(ctx context.Context, _ requesttrace.AuditInfo, page, pageSize int) ([]service.Product, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, page, pageSize)
}

func (m *mockService) SetStock(ctx context.Context, _ requesttrace.AuditInfo, id uuid.UUID, input service.SetStockInput) (service.Product, error) {
	if m.setStockFn == nil {
		panic("setStockFn not configured")
	}
	return m.setStockFn(ctx, id, input)
}

func (m *mockService) DecrementReservation(ctx context.Context, _ requesttrace.AuditInfo, id uuid.UUID) (service.DecrementResult, error) {
	if m.decrementFn == nil {
		panic("decrementFn not configured")
	}
	return m.decrementFn(ctx, id)
}

func (m *mockService) Reconcile(context.Context, queue.ReconcilePayload) (int64, error) {
	panic("Reconcile not configured")
}

func (m *mockService) LockProducts(context.Context, []uuid.UUID) ([]service.Product, error) {
	panic("LockProducts not configured")
}

func (m *mockService) ReserveStep(string, func(*workflow.RunContext) []persistence.StockLine) *workflow.Step {
	panic("ReserveStep not configured")
}

func (m *mockService) DecrementWorkflow(func(*workflow.RunContext) uuid.UUID) *workflow.Workflow {
	panic("DecrementWorkflow not configured")
}

func newRouter(t *testing.T, svc service.Service) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	New(svc, zaptest.NewLogger(t)).Routes(r)
	return r
}

func TestHandlerCreateProduct(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	id := uuid.New()
	svc.createFn = func(_ context.Context, input service.CreateProductInput) (service.Product, error) {
		require.Equal(t, "W-1", input.SKU)
		require.EqualValues(t, 1500, input.UnitPrice)
		require.Nil(t, input.LowStockThreshold)
		now := time.Now().UTC()
		return service.Product{ID: id, SKU: "W-1", Name: "Widget", UnitPrice: 1500, OnHand: 3, Available: 3, LowStockThreshold: 5, CreatedAt: now, UpdatedAt: now}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"sku":"W-1","name":"Widget","unitPrice":1500,"onHand":3}`))
	rec := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, productsBasePath+"/"+id.String(), rec.Header().Get("Location"))

	var body productBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, id, body.ProductID)
	require.Equal(t, 3, body.Available)
}

func TestHandlerCreateProductRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"sku":"W-1","colour":"red"}`))
	rec := httptest.NewRecorder()
	newRouter(t, &mockService{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))
}

func TestHandlerMapsServiceErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &service.ValidationError{Fields: service.FieldErrors{"onHand": {"must be zero or greater"}}}, http.StatusBadRequest},
		{"not found", service.ErrNotFound, http.StatusNotFound},
		{"reservation closed", &workflow.RunError{Failure: &workflow.ErrorInfo{Kind: workflow.KindStepFailure, Cause: service.ErrReservationClosed}}, http.StatusConflict},
		{"insufficient stock", service.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{"compensation failure", &workflow.RunError{CompensationFailures: []*workflow.ErrorInfo{{Kind: workflow.KindCompensationFailure}}}, http.StatusInternalServerError},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &mockService{
				decrementFn: func(context.Context, uuid.UUID) (service.DecrementResult, error) {
					return service.DecrementResult{}, tc.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/reservations/"+uuid.NewString()+"/decrement", nil)
			rec := httptest.NewRecorder()
			newRouter(t, svc).ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			var body problem.Details
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.status, body.Status)
		})
	}
}

func TestHandlerRejectsMalformedIDs(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/products/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	newRouter(t, &mockService{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body problem.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Errors)
	require.Contains(t, *body.Errors, "productId")
}

func TestHandlerListProductsPaginates(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		listFn: func(_ context.Context, page, pageSize int) ([]service.Product, error) {
			require.Equal(t, 2, page)
			require.Equal(t, 200, pageSize)
			return []service.Product{{ID: uuid.New(), SKU: "W-1"}}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/products?page=2&pageSize=1000", nil)
	rec := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body productList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
}
