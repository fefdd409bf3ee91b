package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	inventory "github.com/zenGate-Global/palmyra-commerce/domains/inventory/be/service"
	domainrepo "github.com/zenGate-Global/palmyra-commerce/domains/orders/be/repo"
	"github.com/zenGate-Global/palmyra-commerce/domains/payments/be/gateway"
	payments "github.com/zenGate-Global/palmyra-commerce/domains/payments/be/service"
	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/notify"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/queue"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

// ValidationError captures input validation problems surfaced by the service.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain-level error sentinel values.
var (
	ErrNotFound       = errors.New("order not found")
	ErrUnknownProduct = errors.New("unknown product")
	ErrConflict       = errors.New("order already exists")

	ErrInsufficientStock = inventory.ErrInsufficientStock
	ErrPaymentDeclined   = payments.ErrPaymentDeclined
	ErrUnknownProvider   = payments.ErrUnknownProvider
)

// Names of the order placement workflow and its steps.
const (
	PlaceWorkflowName         = "placeOrder"
	StepPriceOrder            = "priceOrder"
	StepReserveStock          = "reserveStock"
	BranchRequiresPayment     = "requiresPayment"
	StepAuthorizeCharge       = "authorizeCharge"
	StepDeferPayment          = "deferPayment"
	StepCreateOrder           = "createOrder"
	GroupFulfilment           = "fulfilment"
	StepSendConfirmationEmail = "sendConfirmationEmail"
	StepEnqueueReconciliation = "enqueueReconciliation"
)

const (
	maxPageSize     = 200
	maxLineQuantity = 1000
)

// LineInput is one requested product.
type LineInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// PlaceOrderInput defines the payload required to place an order.
type PlaceOrderInput struct {
	CustomerEmail   string
	PaymentProvider string
	Lines           []LineInput
}

// Quote is what priceOrder computes.
type Quote struct {
	Lines    []persistence.OrderLine
	Total    int64
	Currency string
}

// DeferredPayment marks an order whose payment is collected on delivery.
type DeferredPayment struct {
	Provider string
}

// OrderLine is a priced line of an order.
type OrderLine struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice int64
}

// Order is the tenant-facing view of an order.
type Order struct {
	ID              uuid.UUID
	CustomerEmail   string
	Status          string
	Currency        string
	Total           int64
	PaymentProvider string
	TransactionID   *string
	ReservationID   uuid.UUID
	Lines           []OrderLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Placement is the outcome of a completed placement run.
type Placement struct {
	Order            Order
	ConfirmationSent bool
	ReconcileTaskID  string
	LowStockTasks    []string
}

// Dispatcher is the slice of the background dispatcher orders uses.
type Dispatcher interface {
	EnqueueReconcile(ctx context.Context, p queue.ReconcilePayload) (string, error)
}

// TenantLookup finds a tenant by id; the tenant registry satisfies it.
type TenantLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
}

// Service exposes the order operations.
type Service interface {
	PlaceOrder(ctx context.Context, audit requesttrace.AuditInfo, input PlaceOrderInput) (Placement, error)
	GetOrder(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID) (Order, error)
	ListOrders(ctx context.Context, audit requesttrace.AuditInfo, page, pageSize int) ([]Order, error)
}

// Config wires the orders service.
type Config struct {
	Guard      *persistence.TenantGuard
	Runner     *workflow.Runner
	Repo       domainrepo.Repository
	Inventory  inventory.Service
	Payments   payments.Service
	Tenants    TenantLookup
	Notifier   notify.Sender
	Dispatcher Dispatcher
	Logger     *zap.Logger
}

type service struct {
	guard      *persistence.TenantGuard
	runner     *workflow.Runner
	repo       domainrepo.Repository
	inventory  inventory.Service
	payments   payments.Service
	tenants    TenantLookup
	notifier   notify.Sender
	dispatcher Dispatcher
	logger     *zap.Logger

	place *workflow.Workflow
}

// placement is the run input; the order id is fixed up front so the payment
// provider sees the same reference the order row gets.
type placement struct {
	OrderID         uuid.UUID
	CustomerEmail   string
	PaymentProvider string
	Lines           []LineInput
}

// New builds an orders Service.
func New(cfg Config) Service {
	switch {
	case cfg.Guard == nil:
		panic("tenant guard is required")
	case cfg.Runner == nil:
		panic("workflow runner is required")
	case cfg.Repo == nil:
		panic("orders repository is required")
	case cfg.Inventory == nil:
		panic("inventory service is required")
	case cfg.Payments == nil:
		panic("payments service is required")
	case cfg.Tenants == nil:
		panic("tenant lookup is required")
	case cfg.Notifier == nil:
		panic("notifier is required")
	case cfg.Dispatcher == nil:
		panic("dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		guard:      cfg.Guard,
		runner:     cfg.Runner,
		repo:       cfg.Repo,
		inventory:  cfg.Inventory,
		payments:   cfg.Payments,
		tenants:    cfg.Tenants,
		notifier:   cfg.Notifier,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}
	s.place = s.placeWorkflow()
	return s
}

func (s *service) PlaceOrder(ctx context.Context, audit requesttrace.AuditInfo, input PlaceOrderInput) (Placement, error) {
	in, err := validatePlaceInput(input)
	if err != nil {
		return Placement{}, err
	}

	var (
		run    *workflow.Result
		runCtx context.Context
	)
	out, err := persistence.RunInTenantScopeFromRequest(ctx, s.guard, func(ctx context.Context, tx *persistence.TenantTx) (Placement, error) {
		runCtx = ctx
		res := s.runner.Run(ctx, s.place, in)
		run = res
		if err := res.Err(); err != nil {
			return Placement{}, err
		}

		out := Placement{
			Order:            mapOrder(workflow.MustValue[persistence.Order](res.Context, StepCreateOrder)),
			ConfirmationSent: workflow.MustValue[bool](res.Context, StepSendConfirmationEmail),
			ReconcileTaskID:  workflow.MustValue[string](res.Context, StepEnqueueReconciliation),
		}
		if ids, ok := workflow.Value[[]string](res.Context, inventory.StepNotifyLowStock); ok {
			out.LowStockTasks = ids
		}
		return out, nil
	}, tenantOverride(audit))
	if errors.Is(err, persistence.ErrCommitFailed) {
		// The rollback took the order rows; the charge and the email still need undoing.
		s.runner.Unwind(runCtx, run, err)
	}
	return out, err
}

func (s *service) GetOrder(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID) (Order, error) {
	if id == uuid.Nil {
		return Order{}, &ValidationError{Fields: FieldErrors{"orderId": {"order id is required"}}}
	}
	record, err := persistence.RunInTenantScopeFromRequest(ctx, s.guard, func(ctx context.Context, tx *persistence.TenantTx) (persistence.Order, error) {
		return s.repo.Get(ctx, tx, id)
	}, tenantOverride(audit))
	if err != nil {
		return Order{}, mapError(err)
	}
	return mapOrder(record), nil
}

func (s *service) ListOrders(ctx context.Context, audit requesttrace.AuditInfo, page, pageSize int) ([]Order, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	records, err := persistence.RunInTenantScopeFromRequest(ctx, s.guard, func(ctx context.Context, tx *persistence.TenantTx) ([]persistence.Order, error) {
		return s.repo.List(ctx, tx, pageSize, (page-1)*pageSize)
	}, tenantOverride(audit))
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]Order, 0, len(records))
	for _, r := range records {
		out = append(out, mapOrder(r))
	}
	return out, nil
}

func (s *service) placeWorkflow() *workflow.Workflow {
	priceOrder := workflow.CreateStep(StepPriceOrder, func(ctx context.Context, rc *workflow.RunContext) (Quote, error) {
		in := workflow.Input[placement](rc)

		ids := make([]uuid.UUID, 0, len(in.Lines))
		for _, line := range in.Lines {
			ids = append(ids, line.ProductID)
		}
		products, err := s.inventory.LockProducts(ctx, ids)
		if err != nil {
			return Quote{}, err
		}
		byID := make(map[uuid.UUID]inventory.Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}

		q := Quote{Lines: make([]persistence.OrderLine, 0, len(in.Lines))}
		for _, line := range in.Lines {
			p, ok := byID[line.ProductID]
			if !ok {
				return Quote{}, fmt.Errorf("%w: %s", ErrUnknownProduct, line.ProductID)
			}
			if p.Available < line.Quantity {
				return Quote{}, fmt.Errorf("%w: %s has %d available, %d requested", ErrInsufficientStock, p.SKU, p.Available, line.Quantity)
			}
			q.Lines = append(q.Lines, persistence.OrderLine{ProductID: p.ID, Quantity: line.Quantity, UnitPrice: p.UnitPrice})
			q.Total += p.UnitPrice * int64(line.Quantity)
		}

		currency, err := s.currency(ctx)
		if err != nil {
			return Quote{}, err
		}
		q.Currency = currency
		return q, nil
	})

	reserveStock := s.inventory.ReserveStep(StepReserveStock, func(rc *workflow.RunContext) []persistence.StockLine {
		q := workflow.MustValue[Quote](rc, StepPriceOrder)
		lines := make([]persistence.StockLine, 0, len(q.Lines))
		for _, l := range q.Lines {
			lines = append(lines, persistence.StockLine{ProductID: l.ProductID, Quantity: l.Quantity})
		}
		return lines
	})

	authorizeCharge := s.payments.ChargeStep(StepAuthorizeCharge, func(rc *workflow.RunContext) gateway.AuthorizeRequest {
		in := workflow.Input[placement](rc)
		q := workflow.MustValue[Quote](rc, StepPriceOrder)
		return gateway.AuthorizeRequest{OrderID: in.OrderID, Amount: q.Total, Currency: q.Currency, Provider: in.PaymentProvider}
	})

	deferPayment := workflow.Transform(StepDeferPayment, func(rc *workflow.RunContext) DeferredPayment {
		return DeferredPayment{Provider: gateway.ProviderManual}
	})

	createOrder := workflow.CreateStepWithCompensation(StepCreateOrder,
		func(ctx context.Context, rc *workflow.RunContext) (persistence.Order, error) {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return persistence.Order{}, err
			}
			in := workflow.Input[placement](rc)
			q := workflow.MustValue[Quote](rc, StepPriceOrder)

			o := persistence.Order{
				ID:              in.OrderID,
				CustomerEmail:   in.CustomerEmail,
				Status:          persistence.OrderPendingPayment,
				Currency:        q.Currency,
				Total:           q.Total,
				PaymentProvider: gateway.ProviderManual,
				ReservationID:   workflow.MustValue[uuid.UUID](rc, StepReserveStock),
				Lines:           q.Lines,
			}
			if charge, ok := workflow.Value[payments.Charge](rc, StepAuthorizeCharge); ok {
				txn := charge.TransactionID
				o.Status = persistence.OrderAuthorized
				o.PaymentProvider = charge.Provider
				o.TransactionID = &txn
			}

			created, err := s.repo.Create(ctx, tx, o)
			if errors.Is(err, persistence.ErrConflict) {
				return persistence.Order{}, fmt.Errorf("%w: %s", ErrConflict, o.ID)
			}
			return created, err
		},
		func(ctx context.Context, _ *workflow.RunContext, o persistence.Order) error {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return err
			}
			return s.repo.Transition(ctx, tx, o.ID, o.Status, persistence.OrderCancelled)
		},
	).Transactional()

	sendConfirmation := workflow.CreateStepWithCompensation(StepSendConfirmationEmail,
		func(ctx context.Context, rc *workflow.RunContext) (bool, error) {
			o := workflow.MustValue[persistence.Order](rc, StepCreateOrder)
			err := s.notifier.Send(ctx, s.notification(ctx, notify.KindOrderConfirmation, o))
			if err != nil {
				platformlogging.FromContextOr(ctx, s.logger).Warn("order confirmation not sent", zap.String("order_id", o.ID.String()), zap.Error(err))
				return false, nil
			}
			return true, nil
		},
		func(ctx context.Context, rc *workflow.RunContext, sent bool) error {
			if !sent {
				return nil
			}
			o := workflow.MustValue[persistence.Order](rc, StepCreateOrder)
			if err := s.notifier.Send(ctx, s.notification(ctx, notify.KindOrderCancelled, o)); err != nil {
				platformlogging.FromContextOr(ctx, s.logger).Warn("order cancellation notice not sent", zap.String("order_id", o.ID.String()), zap.Error(err))
			}
			return nil
		},
	)

	decrementInventory := s.inventory.DecrementWorkflow(func(rc *workflow.RunContext) uuid.UUID {
		return workflow.MustValue[uuid.UUID](rc, StepReserveStock)
	})

	enqueueReconciliation := workflow.CreateStep(StepEnqueueReconciliation, func(ctx context.Context, rc *workflow.RunContext) (string, error) {
		tx, err := persistence.TxFromContext(ctx)
		if err != nil {
			return "", err
		}
		o := workflow.MustValue[persistence.Order](rc, StepCreateOrder)
		ids := make([]string, 0, len(o.Lines))
		for _, l := range o.Lines {
			ids = append(ids, l.ProductID.String())
		}
		return s.dispatcher.EnqueueReconcile(ctx, queue.ReconcilePayload{
			TenantID:   tx.TenantID().String(),
			OrderID:    o.ID.String(),
			ProductIDs: ids,
		})
	})

	return workflow.CreateWorkflow(PlaceWorkflowName,
		priceOrder,
		reserveStock,
		workflow.When(BranchRequiresPayment, func(rc *workflow.RunContext) bool {
			return workflow.Input[placement](rc).PaymentProvider != gateway.ProviderManual &&
				workflow.MustValue[Quote](rc, StepPriceOrder).Total > 0
		}, authorizeCharge, deferPayment),
		createOrder,
		workflow.Parallel(GroupFulfilment, sendConfirmation, decrementInventory, enqueueReconciliation),
	)
}

// currency prefers the tenant resolved from the host and falls back to the registry.
func (s *service) currency(ctx context.Context) (string, error) {
	id, ok := persistence.ScopedTenantID(ctx)
	if !ok {
		return "", persistence.ErrTenantContextUnavailable
	}
	if t, ok := tenant.FromContext(ctx); ok && t.ID == id && t.Currency != "" {
		return t.Currency, nil
	}
	t, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load tenant %s: %w", id, err)
	}
	return t.Currency, nil
}

func (s *service) notification(ctx context.Context, kind notify.Kind, o persistence.Order) notify.Notification {
	tenantID, _ := persistence.ScopedTenantID(ctx)
	return notify.Notification{
		TenantID:  tenantID.String(),
		Kind:      kind,
		Recipient: o.CustomerEmail,
		Data: map[string]any{
			"orderId":  o.ID.String(),
			"total":    o.Total,
			"currency": o.Currency,
			"status":   string(o.Status),
		},
	}
}

func validatePlaceInput(input PlaceOrderInput) (placement, error) {
	fields := FieldErrors{}

	email := strings.TrimSpace(input.CustomerEmail)
	if email == "" {
		fields.add("customerEmail", "customer email is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields.add("customerEmail", "must be a valid email address")
	}

	provider := strings.ToLower(strings.TrimSpace(input.PaymentProvider))
	if provider == "" {
		provider = gateway.ProviderManual
	}

	if len(input.Lines) == 0 {
		fields.add("lines", "at least one line is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Lines))
	for i, line := range input.Lines {
		key := fmt.Sprintf("lines[%d]", i)
		if line.ProductID == uuid.Nil {
			fields.add(key+".productId", "product id is required")
		}
		if _, dup := seen[line.ProductID]; dup && line.ProductID != uuid.Nil {
			fields.add(key+".productId", "product appears more than once")
		}
		seen[line.ProductID] = struct{}{}
		if line.Quantity < 1 || line.Quantity > maxLineQuantity {
			fields.add(key+".quantity", fmt.Sprintf("must be between 1 and %d", maxLineQuantity))
		}
	}
	if len(fields) > 0 {
		return placement{}, &ValidationError{Fields: fields}
	}

	return placement{
		OrderID:         uuid.New(),
		CustomerEmail:   email,
		PaymentProvider: provider,
		Lines:           append([]LineInput(nil), input.Lines...),
	}, nil
}

func mapError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func tenantOverride(audit requesttrace.AuditInfo) string {
	if audit.TenantID == nil {
		return ""
	}
	return *audit.TenantID
}

func mapOrder(o persistence.Order) Order {
	out := Order{
		ID:              o.ID,
		CustomerEmail:   o.CustomerEmail,
		Status:          string(o.Status),
		Currency:        o.Currency,
		Total:           o.Total,
		PaymentProvider: o.PaymentProvider,
		TransactionID:   o.TransactionID,
		ReservationID:   o.ReservationID,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, l := range o.Lines {
		out.Lines = append(out.Lines, OrderLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}
