// Package gateway is the payment collaborator: it authorizes and refunds charges with
// an external provider. Order and settlement workflows depend on the Gateway interface
// only.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ProviderManual settles offline (bank transfer, cash on delivery); nothing is charged
// up front.
const ProviderManual = "manual"

var (
	// ErrDeclined is returned when the provider refuses a charge or refund.
	ErrDeclined = errors.New("payment declined")
	// ErrUnavailable is returned when the provider cannot be reached or keeps failing.
	ErrUnavailable = errors.New("payment provider unavailable")
	// ErrUnknownProvider is returned for providers no gateway is registered for.
	ErrUnknownProvider = errors.New("unknown payment provider")
)

// AuthorizeRequest asks the provider to hold Amount minor units of Currency.
type AuthorizeRequest struct {
	OrderID  uuid.UUID
	Amount   int64
	Currency string
	Provider string
}

// Authorization is a successful hold.
type Authorization struct {
	TransactionID string
	Provider      string
}

// Gateway authorizes and refunds charges.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	Refund(ctx context.Context, transactionID string, amount int64) error
}

// Manual records offline payments. Authorizations always succeed with a deterministic
// reference and refunds are bookkeeping only.
type Manual struct{}

func (Manual) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	if err := ctx.Err(); err != nil {
		return Authorization{}, err
	}
	return Authorization{TransactionID: "manual-" + req.OrderID.String(), Provider: ProviderManual}, nil
}

func (Manual) Refund(ctx context.Context, _ string, _ int64) error {
	return ctx.Err()
}

// Router dispatches to a gateway per provider. Refunds are routed by the provider
// prefix of the transaction id ("<provider>-...").
type Router struct {
	gateways map[string]Gateway
}

var _ Gateway = (*Router)(nil)

// NewRouter builds a Router; the manual provider is always registered.
func NewRouter(gateways map[string]Gateway) *Router {
	r := &Router{gateways: map[string]Gateway{ProviderManual: Manual{}}}
	for name, g := range gateways {
		if g == nil {
			panic(fmt.Sprintf("gateway for provider %q is nil", name))
		}
		r.gateways[strings.ToLower(name)] = g
	}
	return r
}

func (r *Router) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	g, ok := r.gateways[strings.ToLower(req.Provider)]
	if !ok {
		return Authorization{}, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}
	return g.Authorize(ctx, req)
}

func (r *Router) Refund(ctx context.Context, transactionID string, amount int64) error {
	provider, _, ok := strings.Cut(transactionID, "-")
	if !ok {
		return fmt.Errorf("%w: transaction %q carries no provider", ErrUnknownProvider, transactionID)
	}
	g, found := r.gateways[strings.ToLower(provider)]
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return g.Refund(ctx, transactionID, amount)
}
