package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/palmyra-commerce/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/problem"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

const adminTenantsPath = "/api/v1/admin/tenants"

type createTenantRequest struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
	Plan        string `json:"plan,omitempty"`
	Currency    string `json:"currency"`
}

type addDomainRequest struct {
	Domain string `json:"domain"`
}

type domainStatusRequest struct {
	Status string `json:"status"`
}

type tenantList struct {
	Items      []tenant.Tenant `json:"items"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalItems int             `json:"totalItems"`
	TotalPages int             `json:"totalPages"`
}

type domainList struct {
	Items []tenant.Domain `json:"items"`
}

// Service is the subset of the tenants service the handler depends on.
type Service interface {
	List(ctx context.Context, opts service.ListOptions) (service.ListResult, error)
	Create(ctx context.Context, input service.CreateInput) (tenant.Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
	Disable(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
	Enable(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
	AddDomain(ctx context.Context, tenantID uuid.UUID, domain string) (tenant.Domain, error)
	SetDomainStatus(ctx context.Context, domain, status string) (tenant.Domain, error)
	ListDomains(ctx context.Context, tenantID uuid.UUID) ([]tenant.Domain, error)
}

// Handler serves the tenant administration endpoints.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the admin endpoints on r. Callers put r behind admin authentication;
// every mutating handler still checks the credentials before acting.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/tenants", h.TenantsList)
	r.Post("/tenants", h.TenantsCreate)
	r.Get("/tenants/{tenantId}", h.TenantsGet)
	r.Post("/tenants/{tenantId}/disable", h.TenantsDisable)
	r.Post("/tenants/{tenantId}/enable", h.TenantsEnable)
	r.Get("/tenants/{tenantId}/domains", h.DomainsList)
	r.Post("/tenants/{tenantId}/domains", h.DomainsAdd)
	r.Put("/domains/{domain}/status", h.DomainsSetStatus)
}

// TenantsList implements GET /admin/tenants
func (h *Handler) TenantsList(w http.ResponseWriter, r *http.Request) {
	page, pageSize := problem.Pagination(r, 20, 100)
	result, err := h.svc.List(r.Context(), service.ListOptions{Page: page, PageSize: pageSize})
	if err != nil {
		problem.Write(w, h.problemForError(r.Context(), err))
		return
	}

	items := result.Tenants
	if items == nil {
		items = []tenant.Tenant{}
	}
	problem.WriteJSON(w, http.StatusOK, tenantList{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

// TenantsCreate implements POST /admin/tenants
func (h *Handler) TenantsCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID, err := h.extractAdminID(ctx)
	if err != nil {
		problem.Write(w, h.buildProblem("Forbidden", err.Error(), problem.TypeForbidden, http.StatusForbidden, nil))
		return
	}

	var body createTenantRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.Write(w, h.buildProblem("Invalid request body", err.Error(), problem.TypeValidation, http.StatusBadRequest, nil))
		return
	}

	created, err := h.svc.Create(ctx, service.CreateInput{
		Slug:        body.Slug,
		DisplayName: body.DisplayName,
		Plan:        body.Plan,
		Currency:    body.Currency,
	})
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err))
		return
	}

	h.logger.Info("tenant created by admin", zap.String("admin_id", adminID), zap.String("tenant_id", created.ID.String()))
	w.Header().Set("Location", fmt.Sprintf("%s/%s", adminTenantsPath, created.ID))
	problem.WriteJSON(w, http.StatusCreated, created)
}

// TenantsGet implements GET /admin/tenants/{tenantId}
func (h *Handler) TenantsGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		problem.Write(w, h.problemForError(r.Context(), err))
		return
	}
	problem.WriteJSON(w, http.StatusOK, t)
}

// TenantsDisable implements POST /admin/tenants/{tenantId}/disable
func (h *Handler) TenantsDisable(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.svc.Disable)
}

// TenantsEnable implements POST /admin/tenants/{tenantId}/enable
func (h *Handler) TenantsEnable(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.svc.Enable)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID) (tenant.Tenant, error)) {
	ctx := r.Context()
	adminID, err := h.extractAdminID(ctx)
	if err != nil {
		problem.Write(w, h.buildProblem("Forbidden", err.Error(), problem.TypeForbidden, http.StatusForbidden, nil))
		return
	}
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	updated, err := apply(ctx, id)
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err))
		return
	}
	h.logger.Info("tenant status changed by admin",
		zap.String("admin_id", adminID),
		zap.String("tenant_id", id.String()),
		zap.String("status", string(updated.Status)),
	)
	problem.WriteJSON(w, http.StatusOK, updated)
}

// DomainsList implements GET /admin/tenants/{tenantId}/domains
func (h *Handler) DomainsList(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	domains, err := h.svc.ListDomains(r.Context(), id)
	if err != nil {
		problem.Write(w, h.problemForError(r.Context(), err))
		return
	}
	if domains == nil {
		domains = []tenant.Domain{}
	}
	problem.WriteJSON(w, http.StatusOK, domainList{Items: domains})
}

// DomainsAdd implements POST /admin/tenants/{tenantId}/domains
func (h *Handler) DomainsAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.extractAdminID(ctx); err != nil {
		problem.Write(w, h.buildProblem("Forbidden", err.Error(), problem.TypeForbidden, http.StatusForbidden, nil))
		return
	}
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var body addDomainRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.Write(w, h.buildProblem("Invalid request body", err.Error(), problem.TypeValidation, http.StatusBadRequest, nil))
		return
	}

	d, err := h.svc.AddDomain(ctx, id, body.Domain)
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err))
		return
	}
	problem.WriteJSON(w, http.StatusCreated, d)
}

// DomainsSetStatus implements PUT /admin/domains/{domain}/status
func (h *Handler) DomainsSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID, err := h.extractAdminID(ctx)
	if err != nil {
		problem.Write(w, h.buildProblem("Forbidden", err.Error(), problem.TypeForbidden, http.StatusForbidden, nil))
		return
	}

	var body domainStatusRequest
	if err := problem.DecodeJSON(r, &body); err != nil {
		problem.Write(w, h.buildProblem("Invalid request body", err.Error(), problem.TypeValidation, http.StatusBadRequest, nil))
		return
	}

	d, err := h.svc.SetDomainStatus(ctx, chi.URLParam(r, "domain"), body.Status)
	if err != nil {
		problem.Write(w, h.problemForError(ctx, err))
		return
	}
	h.logger.Info("domain status changed by admin",
		zap.String("admin_id", adminID),
		zap.String("domain", d.Domain),
		zap.String("status", string(d.Status)),
	)
	problem.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := tenant.ParseID(chi.URLParam(r, "tenantId"))
	if err != nil {
		fields := service.FieldErrors{"tenantId": {"must be a canonical UUID"}}
		problem.Write(w, h.buildProblem("Validation failed", "one or more fields are invalid", problem.TypeValidation, http.StatusBadRequest, fields))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) extractAdminID(ctx context.Context) (string, error) {
	creds, ok := platformauth.UserFromContext(ctx)
	if !ok || creds == nil {
		return "", errors.New("missing credentials")
	}
	if !creds.IsAdmin {
		return "", errors.New("admin role required")
	}
	if creds.ID == "" {
		return "", errors.New("invalid admin id")
	}
	return creds.ID, nil
}

func (h *Handler) problemForError(ctx context.Context, err error) problem.Details {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return h.buildProblem("Validation failed", "one or more fields are invalid", problem.TypeValidation, http.StatusBadRequest, validationErr.Fields)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrDomainNotFound):
		return h.buildProblem("Not found", err.Error(), problem.TypeNotFound, http.StatusNotFound, nil)
	case errors.Is(err, service.ErrConflictSlug), errors.Is(err, service.ErrConflictDomain):
		return h.buildProblem("Conflict", err.Error(), problem.TypeConflict, http.StatusConflict, nil)
	default:
		platformlogging.FromContextOr(ctx, h.logger).Error("tenant operation failed", zap.Error(err))
		return h.buildProblem("Internal error", "internal error", problem.TypeInternal, http.StatusInternalServerError, nil)
	}
}

func (h *Handler) buildProblem(title, detail, problemType string, status int, errs service.FieldErrors) problem.Details {
	d := problem.Details{
		Title:  title,
		Detail: &detail,
		Status: status,
		Type:   &problemType,
	}
	if len(errs) > 0 {
		m := map[string][]string(errs)
		d.Errors = &m
	}
	return d
}
