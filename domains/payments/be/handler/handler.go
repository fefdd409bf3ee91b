package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/domains/payments/be/service"
	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/problem"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

type operation string

const (
	settleOperation     operation = "settleOrder"
	getPaymentOperation operation = "getOrderPayment"
)

type settleRequest struct {
	Provider string `json:"provider,omitempty"`
}

type settlementBody struct {
	OrderID       uuid.UUID `json:"orderId"`
	PaymentID     uuid.UUID `json:"paymentId"`
	TransactionID string    `json:"transactionId"`
	Provider      string    `json:"provider"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	ReceiptSent   bool      `json:"receiptSent"`
}

type paymentBody struct {
	PaymentID     uuid.UUID `json:"paymentId"`
	OrderID       uuid.UUID `json:"orderId"`
	TransactionID string    `json:"transactionId"`
	Provider      string    `json:"provider"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Handler serves the settlement endpoints.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("payments service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders/{orderId}/settle", h.Settle)
	r.Get("/orders/{orderId}/payment", h.GetPayment)
}

func (h *Handler) audit(ctx context.Context) requesttrace.AuditInfo {
	return requesttrace.FromContextOrAnonymous(ctx)
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	// the body is optional
	var body settleRequest
	if err := problem.DecodeJSON(r, &body); err != nil && !errors.Is(err, problem.ErrEmptyBody) {
		problem.Write(w, h.buildProblem("Invalid request body", err.Error(), problem.TypeValidation, http.StatusBadRequest, nil))
		return
	}

	s, err := h.svc.Settle(ctx, h.audit(ctx), service.SettleInput{OrderID: id, Provider: body.Provider})
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err, settleOperation))
		return
	}
	problem.WriteJSON(w, http.StatusOK, settlementBody{
		OrderID:       s.OrderID,
		PaymentID:     s.PaymentID,
		TransactionID: s.TransactionID,
		Provider:      s.Provider,
		Amount:        s.Amount,
		Currency:      s.Currency,
		ReceiptSent:   s.ReceiptSent,
	})
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetPayment(ctx, h.audit(ctx), id)
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err, getPaymentOperation))
		return
	}
	problem.WriteJSON(w, http.StatusOK, paymentBody{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		TransactionID: p.TransactionID,
		Provider:      p.Provider,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        p.Status,
		CreatedAt:     p.CreatedAt,
	})
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		fields := service.FieldErrors{"orderId": {"must be a UUID"}}
		problem.Write(w, h.buildProblem("Validation failed", "one or more fields are invalid", problem.TypeValidation, http.StatusBadRequest, fields))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) problem.Details {
	status, title, detail, problemType, fieldErrors := h.classifyError(err)

	logger := platformlogging.FromContextOr(ctx, h.logger)
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("payments operation failed", fields...)
	} else {
		logger.Warn("payments request rejected", fields...)
	}

	return h.buildProblem(title, detail, problemType, status, fieldErrors)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "one or more fields are invalid", problem.TypeValidation, validationErr.Fields
	case errors.Is(err, persistence.ErrInvalidTenant):
		return http.StatusBadRequest, "Invalid tenant", "tenant id is malformed", problem.TypeValidation, nil
	case errors.Is(err, service.ErrUnknownProvider):
		return http.StatusBadRequest, "Validation failed", "payment provider is not supported", problem.TypeValidation, service.FieldErrors{"provider": {"unknown provider"}}
	case errors.Is(err, service.ErrOrderNotFound):
		return http.StatusNotFound, "Resource not found", "order not found", problem.TypeNotFound, nil
	case errors.Is(err, service.ErrPaymentNotFound):
		return http.StatusNotFound, "Resource not found", "order has no settled payment", problem.TypeNotFound, nil
	case errors.Is(err, service.ErrAlreadySettled), errors.Is(err, service.ErrNotPayable):
		return http.StatusConflict, "Conflict", err.Error(), problem.TypeConflict, nil
	case errors.Is(err, workflow.ErrCompensationFailure), errors.Is(err, workflow.ErrEngineFault):
		return http.StatusInternalServerError, "Internal server error", "the operation could not be fully reverted", problem.TypeInternal, nil
	case errors.Is(err, service.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "Payment declined", "the payment provider declined the charge", problem.TypeUnprocessed, nil
	case errors.Is(err, service.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "Payment provider unavailable", "try again later", problem.TypeInternal, nil
	default:
		return http.StatusInternalServerError, "Internal server error", "an unexpected error occurred", problem.TypeInternal, nil
	}
}

func (h *Handler) buildProblem(title, detail, problemType string, status int, fieldErrors service.FieldErrors) problem.Details {
	d := problem.Details{Title: title, Status: status}
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
