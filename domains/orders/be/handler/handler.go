package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/domains/orders/be/service"
	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/problem"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

const ordersBasePath = "/api/v1/orders"

type operation string

const (
	placeOperation operation = "placeOrder"
	getOperation   operation = "getOrder"
	listOperation  operation = "listOrders"
)

type lineBody struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice,omitempty"`
}

type placeOrderRequest struct {
	CustomerEmail   string     `json:"customerEmail"`
	PaymentProvider string     `json:"paymentProvider,omitempty"`
	Lines           []lineBody `json:"lines"`
}

type orderBody struct {
	OrderID         uuid.UUID  `json:"orderId"`
	CustomerEmail   string     `json:"customerEmail"`
	Status          string     `json:"status"`
	Currency        string     `json:"currency"`
	Total           int64      `json:"total"`
	PaymentProvider string     `json:"paymentProvider"`
	TransactionID   *string    `json:"transactionId,omitempty"`
	ReservationID   uuid.UUID  `json:"reservationId"`
	Lines           []lineBody `json:"lines,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type placementBody struct {
	Order            orderBody `json:"order"`
	ConfirmationSent bool      `json:"confirmationSent"`
	LowStockTasks    []string  `json:"lowStockTasks,omitempty"`
}

type orderList struct {
	Items    []orderBody `json:"items"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

// Handler serves the order endpoints.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("orders service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the order endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders", h.PlaceOrder)
	r.Get("/orders", h.ListOrders)
	r.Get("/orders/{orderId}", h.GetOrder)
}

func (h *Handler) audit(ctx context.Context) requesttrace.AuditInfo {
	return requesttrace.FromContextOrAnonymous(ctx)
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body placeOrderRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.Write(w, h.buildProblem("Invalid request body", err.Error(), problem.TypeValidation, http.StatusBadRequest, nil))
		return
	}

	input := service.PlaceOrderInput{CustomerEmail: body.CustomerEmail, PaymentProvider: body.PaymentProvider}
	for _, l := range body.Lines {
		input.Lines = append(input.Lines, service.LineInput{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	placed, err := h.svc.PlaceOrder(ctx, h.audit(ctx), input)
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err, placeOperation))
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s", ordersBasePath, placed.Order.ID))
	problem.WriteJSON(w, http.StatusCreated, placementBody{
		Order:            toAPIOrder(placed.Order),
		ConfirmationSent: placed.ConfirmationSent,
		LowStockTasks:    placed.LowStockTasks,
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, pageSize := problem.Pagination(r, 20, 200)

	orders, err := h.svc.ListOrders(ctx, h.audit(ctx), page, pageSize)
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err, listOperation))
		return
	}
	items := make([]orderBody, 0, len(orders))
	for _, o := range orders {
		items = append(items, toAPIOrder(o))
	}
	problem.WriteJSON(w, http.StatusOK, orderList{Items: items, Page: page, PageSize: pageSize})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		fields := service.FieldErrors{"orderId": {"must be a UUID"}}
		problem.Write(w, h.buildProblem("Validation failed", "one or more fields are invalid", problem.TypeValidation, http.StatusBadRequest, fields))
		return
	}

	order, err := h.svc.GetOrder(ctx, h.audit(ctx), id)
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err, getOperation))
		return
	}
	problem.WriteJSON(w, http.StatusOK, toAPIOrder(order))
}

func toAPIOrder(o service.Order) orderBody {
	out := orderBody{
		OrderID:         o.ID,
		CustomerEmail:   o.CustomerEmail,
		Status:          o.Status,
		Currency:        o.Currency,
		Total:           o.Total,
		PaymentProvider: o.PaymentProvider,
		TransactionID:   o.TransactionID,
		ReservationID:   o.ReservationID,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, l := range o.Lines {
		out.Lines = append(out.Lines, lineBody{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) problem.Details {
	status, title, detail, problemType, fieldErrors := h.classifyError(err)

	logger := platformlogging.FromContextOr(ctx, h.logger)
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
	}
	var runErr *workflow.RunError
	if errors.As(err, &runErr) {
		fields = append(fields, zap.String("workflow_state", string(runErr.State)))
		if runErr.Failure != nil {
			fields = append(fields, zap.String("failed_step", runErr.Failure.Step))
		}
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("orders operation failed", append(fields, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("orders resource not found", append(fields, zap.Error(err))...)
	default:
		logger.Warn("orders request rejected", append(fields, zap.Error(err))...)
	}

	return h.buildProblem(title, detail, problemType, status, fieldErrors)
}

// classifyError maps service errors to problem responses. A run that could not be
// fully reverted is always a 500, whatever its original failure was.
func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "one or more fields are invalid", problem.TypeValidation, validationErr.Fields
	case errors.Is(err, persistence.ErrInvalidTenant):
		return http.StatusBadRequest, "Invalid tenant", "tenant id is malformed", problem.TypeValidation, nil
	case errors.Is(err, workflow.ErrCompensationFailure), errors.Is(err, workflow.ErrEngineFault):
		return http.StatusInternalServerError, "Internal server error", "the order could not be fully reverted", problem.TypeInternal, nil
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Resource not found", "order not found", problem.TypeNotFound, nil
	case errors.Is(err, service.ErrUnknownProvider):
		return http.StatusBadRequest, "Validation failed", "payment provider is not supported", problem.TypeValidation, service.FieldErrors{"paymentProvider": {"unknown provider"}}
	case errors.Is(err, service.ErrUnknownProduct), errors.Is(err, service.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, "Order cannot be placed", err.Error(), problem.TypeUnprocessed, nil
	case errors.Is(err, service.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "Payment declined", "the payment provider declined the charge", problem.TypeUnprocessed, nil
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "Conflict", "order already exists", problem.TypeConflict, nil
	case errors.Is(err, workflow.ErrStepFailure):
		return http.StatusConflict, "Order not placed", "the order was rolled back", problem.TypeConflict, nil
	default:
		return http.StatusInternalServerError, "Internal server error", "an unexpected error occurred", problem.TypeInternal, nil
	}
}

func (h *Handler) buildProblem(title, detail, problemType string, status int, fieldErrors service.FieldErrors) problem.Details {
	d := problem.Details{
		Title:  title,
		Status: status,
	}
	if detail != "" {
		d.Detail = &detail
	}
	if problemType != "" {
		d.Type = &problemType
	}
	if len(fieldErrors) > 0 {
		copied := make(map[string][]string, len(fieldErrors))
		for field, messages := range fieldErrors {
			copied[field] = append([]string(nil), messages...)
		}
		d.Errors = &copied
	}
	return d
}
