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

	"github.com/zenGate-Global/palmyra-commerce/domains/inventory/be/service"
	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/problem"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

const productsBasePath = "/api/v1/products"

type operation string

const (
	createOperation    operation = "createProduct"
	listOperation      operation = "listProducts"
	getOperation       operation = "getProduct"
	setStockOperation  operation = "setProductStock"
	decrementOperation operation = "decrementReservation"
)

type productBody struct {
	ProductID         uuid.UUID `json:"productId"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	UnitPrice         int64     `json:"unitPrice"`
	OnHand            int       `json:"onHand"`
	Reserved          int       `json:"reserved"`
	Available         int       `json:"available"`
	LowStockThreshold int       `json:"lowStockThreshold"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type createProductRequest struct {
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	UnitPrice         int64  `json:"unitPrice"`
	OnHand            int    `json:"onHand"`
	LowStockThreshold *int   `json:"lowStockThreshold,omitempty"`
}

type setStockRequest struct {
	OnHand            int  `json:"onHand"`
	LowStockThreshold *int `json:"lowStockThreshold,omitempty"`
}

type productList struct {
	Items    []productBody `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

type decrementResponse struct {
	ReservationID uuid.UUID     `json:"reservationId"`
	Products      []productBody `json:"products"`
	LowStockTasks []string      `json:"lowStockTasks"`
}

// Handler serves the product and stock endpoints.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("inventory service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the inventory endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/products", h.CreateProduct)
	r.Get("/products", h.ListProducts)
	r.Get("/products/{productId}", h.GetProduct)
	r.Put("/products/{productId}/stock", h.SetStock)
	r.Post("/reservations/{reservationId}/decrement", h.DecrementReservation)
}

func (h *Handler) audit(ctx context.Context) requesttrace.AuditInfo {
	return requesttrace.FromContextOrAnonymous(ctx)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createProductRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.Write(w, h.buildProblem("Invalid request body", err.Error(), problem.TypeValidation, http.StatusBadRequest, nil))
		return
	}

	product, err := h.svc.CreateProduct(ctx, h.audit(ctx), service.CreateProductInput{
		SKU:               body.SKU,
		Name:              body.Name,
		UnitPrice:         body.UnitPrice,
		OnHand:            body.OnHand,
		LowStockThreshold: body.LowStockThreshold,
	})
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err, createOperation))
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s", productsBasePath, product.ID))
	problem.WriteJSON(w, http.StatusCreated, toAPIProduct(product))
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, pageSize := problem.Pagination(r, 50, 200)

	products, err := h.svc.ListProducts(ctx, h.audit(ctx), page, pageSize)
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err, listOperation))
		return
	}

	items := make([]productBody, 0, len(products))
	for _, p := range products {
		items = append(items, toAPIProduct(p))
	}
	problem.WriteJSON(w, http.StatusOK, productList{Items: items, Page: page, PageSize: pageSize})
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathUUID(w, r, "productId")
	if !ok {
		return
	}

	product, err := h.svc.GetProduct(ctx, h.audit(ctx), id)
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err, getOperation))
		return
	}
	problem.WriteJSON(w, http.StatusOK, toAPIProduct(product))
}

func (h *Handler) SetStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathUUID(w, r, "productId")
	if !ok {
		return
	}
	var body setStockRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.Write(w, h.buildProblem("Invalid request body", err.Error(), problem.TypeValidation, http.StatusBadRequest, nil))
		return
	}

	product, err := h.svc.SetStock(ctx, h.audit(ctx), id, service.SetStockInput{OnHand: body.OnHand, LowStockThreshold: body.LowStockThreshold})
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err, setStockOperation))
		return
	}
	problem.WriteJSON(w, http.StatusOK, toAPIProduct(product))
}

func (h *Handler) DecrementReservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathUUID(w, r, "reservationId")
	if !ok {
		return
	}

	result, err := h.svc.DecrementReservation(ctx, h.audit(ctx), id)
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err, decrementOperation))
		return
	}

	resp := decrementResponse{ReservationID: result.ReservationID, LowStockTasks: result.LowStockTasks}
	for _, p := range result.Products {
		resp.Products = append(resp.Products, toAPIProduct(p))
	}
	problem.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		fields := service.FieldErrors{param: {"must be a UUID"}}
		problem.Write(w, h.buildProblem("Validation failed", "one or more fields are invalid", problem.TypeValidation, http.StatusBadRequest, fields))
		return uuid.Nil, false
	}
	return id, true
}

func toAPIProduct(p service.Product) productBody {
	return productBody{
		ProductID:         p.ID,
		SKU:               p.SKU,
		Name:              p.Name,
		UnitPrice:         p.UnitPrice,
		OnHand:            p.OnHand,
		Reserved:          p.Reserved,
		Available:         p.Available,
		LowStockThreshold: p.LowStockThreshold,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) problem.Details {
	status, title, detail, problemType, fieldErrors := h.classifyError(err)

	logger := platformlogging.FromContextOr(ctx, h.logger)
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("inventory operation failed", append(fields, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("inventory resource not found", append(fields, zap.Error(err))...)
	default:
		logger.Warn("inventory request rejected", append(fields, zap.Error(err))...)
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
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Resource not found", "product not found", problem.TypeNotFound, nil
	case errors.Is(err, service.ErrReservationNotFound):
		return http.StatusNotFound, "Resource not found", "reservation not found", problem.TypeNotFound, nil
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "Conflict", "a product with this sku already exists", problem.TypeConflict, nil
	case errors.Is(err, service.ErrReservationClosed):
		return http.StatusConflict, "Conflict", "reservation is not open", problem.TypeConflict, nil
	case errors.Is(err, service.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, "Insufficient stock", "stock cannot cover the request", problem.TypeUnprocessed, nil
	case errors.Is(err, workflow.ErrCompensationFailure), errors.Is(err, workflow.ErrEngineFault):
		return http.StatusInternalServerError, "Internal server error", "the operation could not be fully reverted", problem.TypeInternal, nil
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
