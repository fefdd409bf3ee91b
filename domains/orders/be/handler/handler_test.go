package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-commerce/domains/orders/be/service"
	"github.com/zenGate-Global/palmyra-commerce/domains/payments/be/gateway"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/problem"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

type mockService struct {
	placeFn func(ctx context.Context, input service.PlaceOrderInput) (service.Placement, error)
	getFn   func(ctx context.Context, id uuid.UUID) (service.Order, error)
	listFn  func(ctx context.Context, page, pageSize int) ([]service.Order, error)
}

func (m *mockService) PlaceOrder(ctx context.Context, _ requesttrace.AuditInfo, input service.PlaceOrderInput) (service.Placement, error) {
	if m.placeFn == nil {
		panic("placeFn not configured")
	}
	return m.placeFn(ctx, input)
}

func (m *mockService) GetOrder(ctx context.Context, _ requesttrace.AuditInfo, id uuid.UUID) (service.Order, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, id)
}

func (m *mockService) ListOrders(ctx context.Context, _ requesttrace.AuditInfo, page, pageSize int) ([]service.Order, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, page, pageSize)
}

func newRouter(t *testing.T, svc service.Service) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	New(svc, zaptest.NewLogger(t)).Routes(r)
	return r
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	orderID := uuid.New()
	svc := &mockService{placeFn: func(_ context.Context, input service.PlaceOrderInput) (service.Placement, error) {
		require.Equal(t, "buyer@example.com", input.CustomerEmail)
		require.Equal(t, []service.LineInput{{ProductID: productID, Quantity: 2}}, input.Lines)
		return service.Placement{
			Order:            service.Order{ID: orderID, Status: "authorized", Total: 3000, Currency: "EUR", Lines: []service.OrderLine{{ProductID: productID, Quantity: 2, UnitPrice: 1500}}},
			ConfirmationSent: true,
		}, nil
	}}

	payload := fmt.Sprintf(`{"customerEmail":"buyer@example.com","paymentProvider":"stripe","lines":[{"productId":"%s","quantity":2}]}`, productID)
	rec := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(payload)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, ordersBasePath+"/"+orderID.String(), rec.Header().Get("Location"))

	var body placementBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, orderID, body.Order.OrderID)
	require.Equal(t, int64(1500), body.Order.Lines[0].UnitPrice)
	require.True(t, body.ConfirmationSent)
}

func TestPlaceOrderErrorMapping(t *testing.T) {
	t.Parallel()

	stepFailure := func(step string, cause error) error {
		return &workflow.RunError{
			Workflow: service.PlaceWorkflowName,
			State:    workflow.StateCompensated,
			Failure:  &workflow.ErrorInfo{Kind: workflow.KindStepFailure, Step: step, Message: cause.Error(), Cause: cause},
		}
	}

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &service.ValidationError{Fields: service.FieldErrors{"lines": {"required"}}}, http.StatusBadRequest},
		{"invalid tenant", persistence.ErrInvalidTenant, http.StatusBadRequest},
		{"no tenant", persistence.ErrTenantContextUnavailable, http.StatusInternalServerError},
		{"insufficient stock", stepFailure(service.StepPriceOrder, service.ErrInsufficientStock), http.StatusUnprocessableEntity},
		{"unknown product", stepFailure(service.StepPriceOrder, service.ErrUnknownProduct), http.StatusUnprocessableEntity},
		{"declined", stepFailure(service.StepAuthorizeCharge, gateway.ErrDeclined), http.StatusPaymentRequired},
		{"unknown provider", stepFailure(service.StepAuthorizeCharge, gateway.ErrUnknownProvider), http.StatusBadRequest},
		{"later step failed", stepFailure(service.StepEnqueueReconciliation, errors.New("redis down")), http.StatusConflict},
		{"not reverted", &workflow.RunError{
			State:                workflow.StateCompensated,
			Failure:              &workflow.ErrorInfo{Kind: workflow.KindStepFailure, Cause: service.ErrInsufficientStock},
			CompensationFailures: []*workflow.ErrorInfo{{Kind: workflow.KindCompensationFailure, Step: service.StepAuthorizeCharge}},
		}, http.StatusInternalServerError},
		{"engine fault", &workflow.RunError{
			State:  workflow.StateFailed,
			Faults: []*workflow.ErrorInfo{{Kind: workflow.KindEngineFault}},
		}, http.StatusInternalServerError},
	}

	payload := fmt.Sprintf(`{"customerEmail":"buyer@example.com","lines":[{"productId":"%s","quantity":1}]}`, uuid.New())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockService{placeFn: func(context.Context, service.PlaceOrderInput) (service.Placement, error) {
				return service.Placement{}, tc.err
			}}
			rec := httptest.NewRecorder()
			newRouter(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(payload)))

			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))
			var body problem.Details
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.status, body.Status)
		})
	}
}

func TestGetOrderAndList(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	svc := &mockService{
		getFn: func(_ context.Context, id uuid.UUID) (service.Order, error) {
			if id != orderID {
				return service.Order{}, fmt.Errorf("%w: %w", service.ErrNotFound, persistence.ErrNotFound)
			}
			return service.Order{ID: id, Status: "pending_payment"}, nil
		},
		listFn: func(_ context.Context, page, pageSize int) ([]service.Order, error) {
			require.Equal(t, 2, page)
			require.Equal(t, 200, pageSize)
			return []service.Order{{ID: orderID}}, nil
		},
	}
	router := newRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+orderID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/123", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders?page=2&pageSize=5000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list orderList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
}
