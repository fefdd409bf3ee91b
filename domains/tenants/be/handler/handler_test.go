package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/palmyra-commerce/platform/go/auth"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/problem"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

type mockService struct {
	listFn            func(ctx context.Context, opts service.ListOptions) (service.ListResult, error)
	createFn          func(ctx context.Context, input service.CreateInput) (tenant.Tenant, error)
	getFn             func(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
	disableFn         func(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
	enableFn          func(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
	addDomainFn       func(ctx context.Context, tenantID uuid.UUID, domain string) (tenant.Domain, error)
	setDomainStatusFn func(ctx context.Context, domain, status string) (tenant.Domain, error)
	listDomainsFn     func(ctx context.Context, tenantID uuid.UUID) ([]tenant.Domain, error)
}

func (m *mockService) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, opts)
}

func (m *mockService) Create(ctx context.Context, input service.CreateInput) (tenant.Tenant, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, input)
}

func (m *mockService) Get(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, id)
}

func (m *mockService) Disable(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	if m.disableFn == nil {
		panic("disableFn not configured")
	}
	return m.disableFn(ctx, id)
}

func (m *mockService) Enable(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	if m.enableFn == nil {
		panic("enableFn not configured")
	}
	return m.enableFn(ctx, id)
}

func (m *mockService) AddDomain(ctx context.Context, tenantID uuid.UUID, domain string) (tenant.Domain, error) {
	if m.addDomainFn == nil {
		panic("addDomainFn not configured")
	}
	return m.addDomainFn(ctx, tenantID, domain)
}

func (m *mockService) SetDomainStatus(ctx context.Context, domain, status string) (tenant.Domain, error) {
	if m.setDomainStatusFn == nil {
		panic("setDomainStatusFn not configured")
	}
	return m.setDomainStatusFn(ctx, domain, status)
}

func (m *mockService) ListDomains(ctx context.Context, tenantID uuid.UUID) ([]tenant.Domain, error) {
	if m.listDomainsFn == nil {
		panic("listDomainsFn not configured")
	}
	return m.listDomainsFn(ctx, tenantID)
}

func newRouter(t *testing.T, svc Service) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/admin", New(svc, zaptest.NewLogger(t)).Routes)
	return r
}

func asAdmin(req *http.Request) *http.Request {
	return req.WithContext(platformauth.WithUser(req.Context(), &platformauth.UserCredentials{ID: "admin-1", IsAdmin: true}))
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problem.Details {
	t.Helper()
	require.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))
	var d problem.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	return d
}

func TestTenantsCreate(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	svc := &mockService{createFn: func(_ context.Context, input service.CreateInput) (tenant.Tenant, error) {
		require.Equal(t, "acme", input.Slug)
		require.Equal(t, "EUR", input.Currency)
		return tenant.Tenant{ID: id, Slug: "acme", DisplayName: "Acme", Plan: tenant.PlanStarter, Currency: "EUR", Status: tenant.StatusActive}, nil
	}}

	req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/tenants", strings.NewReader(`{"slug":"acme","displayName":"Acme","currency":"EUR"}`)))
	rec := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, adminTenantsPath+"/"+id.String(), rec.Header().Get("Location"))

	var got tenant.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, id, got.ID)
	require.Equal(t, tenant.StatusActive, got.Status)
}

func TestTenantsCreateRequiresAdmin(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodPost, "/admin/tenants", strings.NewReader(`{"slug":"acme"}`))
	req = req.WithContext(platformauth.WithUser(req.Context(), &platformauth.UserCredentials{ID: "u-1"}))
	rec := httptest.NewRecorder()
	newRouter(t, &mockService{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "Forbidden", decodeProblem(t, rec).Title)
}

func TestTenantsCreateErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &service.ValidationError{Fields: service.FieldErrors{"slug": {"invalid"}}}, http.StatusBadRequest},
		{"conflict", service.ErrConflictSlug, http.StatusConflict},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &mockService{createFn: func(context.Context, service.CreateInput) (tenant.Tenant, error) {
				return tenant.Tenant{}, tc.err
			}}
			req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/tenants", strings.NewReader(`{"slug":"acme","displayName":"Acme","currency":"EUR"}`)))
			rec := httptest.NewRecorder()
			newRouter(t, svc).ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			d := decodeProblem(t, rec)
			require.Equal(t, tc.status, d.Status)
			if tc.status == http.StatusInternalServerError {
				require.Equal(t, "internal error", *d.Detail)
			}
		})
	}
}

func TestTenantsCreateRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	req := asAdmin(httptest.NewRequest(http.MethodPost, "/admin/tenants", strings.NewReader(`{"slug":"acme","schema":"x"}`)))
	rec := httptest.NewRecorder()
	newRouter(t, &mockService{}).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantsList(t *testing.T) {
	t.Parallel()
	svc := &mockService{listFn: func(_ context.Context, opts service.ListOptions) (service.ListResult, error) {
		require.Equal(t, 2, opts.Page)
		require.Equal(t, 100, opts.PageSize)
		return service.ListResult{Page: 2, PageSize: 100, TotalItems: 0}, nil
	}}

	rec := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants?page=2&pageSize=500", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got tenantList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Items)
	require.Empty(t, got.Items)
	require.Equal(t, 2, got.Page)
}

func TestTenantsGet(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	svc := &mockService{getFn: func(_ context.Context, got uuid.UUID) (tenant.Tenant, error) {
		if got != id {
			return tenant.Tenant{}, service.ErrNotFound
		}
		return tenant.Tenant{ID: id, Slug: "acme"}, nil
	}}
	router := newRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	d := decodeProblem(t, rec)
	require.NotNil(t, d.Errors)
	require.Contains(t, *d.Errors, "tenantId")
}

func TestTenantsDisable(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	svc := &mockService{disableFn: func(_ context.Context, got uuid.UUID) (tenant.Tenant, error) {
		require.Equal(t, id, got)
		return tenant.Tenant{ID: id, Status: tenant.StatusDisabled}, nil
	}}

	rec := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/admin/tenants/"+id.String()+"/disable", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	var got tenant.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, tenant.StatusDisabled, got.Status)
}

func TestDomainsAddAndSetStatus(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	svc := &mockService{
		addDomainFn: func(_ context.Context, tenantID uuid.UUID, domain string) (tenant.Domain, error) {
			require.Equal(t, id, tenantID)
			return tenant.Domain{Domain: domain, TenantID: tenantID, Status: tenant.DomainPending}, nil
		},
		setDomainStatusFn: func(_ context.Context, domain, status string) (tenant.Domain, error) {
			if domain != "shop.example.com" {
				return tenant.Domain{}, service.ErrDomainNotFound
			}
			return tenant.Domain{Domain: domain, TenantID: id, Status: tenant.DomainStatus(status)}, nil
		},
	}
	router := newRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/admin/tenants/"+id.String()+"/domains", strings.NewReader(`{"domain":"shop.example.com"}`))))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPut, "/admin/domains/shop.example.com/status", strings.NewReader(`{"status":"verified"}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	var d tenant.Domain
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.Equal(t, tenant.DomainVerified, d.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPut, "/admin/domains/other.example.com/status", strings.NewReader(`{"status":"verified"}`))))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDomainsList(t *testing.T) {
	t.Parallel()
	svc := &mockService{listDomainsFn: func(context.Context, uuid.UUID) ([]tenant.Domain, error) {
		return nil, nil
	}}
	rec := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/"+uuid.NewString()+"/domains", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())
}
