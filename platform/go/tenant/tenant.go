package tenant

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Plan is the commercial plan a tenant is subscribed to.
type Plan string

const (
	PlanStarter    Plan = "starter"
	PlanGrowth     Plan = "growth"
	PlanEnterprise Plan = "enterprise"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanStarter, PlanGrowth, PlanEnterprise:
		return true
	}
	return false
}

// Status is the lifecycle state of a tenant. Tenants are never deleted, only disabled.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// DomainStatus tracks the verification lifecycle of a custom domain.
type DomainStatus string

const (
	DomainPending  DomainStatus = "pending"
	DomainVerified DomainStatus = "verified"
	DomainActive   DomainStatus = "active"
	DomainRevoked  DomainStatus = "revoked"
)

// Resolvable reports whether a domain in this status may be mapped to its tenant.
// Only verified and active domains resolve; anything else must look like an unknown host.
func (s DomainStatus) Resolvable() bool {
	return s == DomainVerified || s == DomainActive
}

// ParseDomainStatus validates a raw status string.
func ParseDomainStatus(raw string) (DomainStatus, error) {
	switch s := DomainStatus(raw); s {
	case DomainPending, DomainVerified, DomainActive, DomainRevoked:
		return s, nil
	}
	return "", fmt.Errorf("invalid domain status %q", raw)
}

// Tenant is the canonical identity record of a merchant.
type Tenant struct {
	ID          uuid.UUID `json:"id"`
	Slug        string    `json:"slug"`
	DisplayName string    `json:"displayName"`
	Plan        Plan      `json:"plan"`
	Currency    string    `json:"currency"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Active reports whether the tenant may serve traffic.
func (t Tenant) Active() bool {
	return t.Status == StatusActive
}

// Domain maps a custom hostname to a tenant.
type Domain struct {
	Domain    string       `json:"domain"`
	TenantID  uuid.UUID    `json:"tenantId"`
	Status    DomainStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
