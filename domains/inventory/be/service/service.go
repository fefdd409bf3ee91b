package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainrepo "github.com/zenGate-Global/palmyra-commerce/domains/inventory/be/repo"
	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/queue"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
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
	ErrNotFound            = errors.New("product not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationClosed   = errors.New("reservation is not open")
	ErrConflict            = errors.New("product sku already exists")
	ErrInsufficientStock   = errors.New("insufficient stock")
)

// Names of the inventory decrement workflow and its steps. Callers embedding the
// workflow read results recorded under these names.
const (
	DecrementWorkflowName = "decrementInventory"
	StepLoadReservation   = "loadReservation"
	StepDecrementStock    = "decrementStock"
	StepCommitReservation = "commitReservation"
	BranchLowStock        = "lowStock"
	StepNotifyLowStock    = "notifyLowStock"
)

const maxPageSize = 200

// Product is the tenant-facing view of a stock record.
type Product struct {
	ID                uuid.UUID
	SKU               string
	Name              string
	UnitPrice         int64
	OnHand            int
	Reserved          int
	Available         int
	LowStockThreshold int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateProductInput defines the payload required to create a product.
type CreateProductInput struct {
	SKU               string
	Name              string
	UnitPrice         int64
	OnHand            int
	LowStockThreshold *int
}

// SetStockInput overwrites the on-hand quantity of a product.
type SetStockInput struct {
	OnHand            int
	LowStockThreshold *int
}

// DecrementInput starts a standalone decrement run.
type DecrementInput struct {
	ReservationID uuid.UUID
}

// DecrementResult summarizes a completed decrement.
type DecrementResult struct {
	ReservationID uuid.UUID
	Products      []Product
	LowStockTasks []string
}

// Dispatcher is the slice of the background dispatcher inventory uses.
type Dispatcher interface {
	EnqueueLowStock(ctx context.Context, p queue.LowStockPayload) (string, error)
}

// Service exposes the inventory domain operations.
type Service interface {
	CreateProduct(ctx context.Context, audit requesttrace.AuditInfo, input CreateProductInput) (Product, error)
	GetProduct(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID) (Product, error)
	ListProducts(ctx context.Context, audit requesttrace.AuditInfo, page, pageSize int) ([]Product, error)
	SetStock(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID, input SetStockInput) (Product, error)
	DecrementReservation(ctx context.Context, audit requesttrace.AuditInfo, reservationID uuid.UUID) (DecrementResult, error)
	Reconcile(ctx context.Context, payload queue.ReconcilePayload) (int64, error)

	// LockProducts locks and returns the products named by ids. It must be called from
	// inside an open tenant scope, typically by a workflow step.
	LockProducts(ctx context.Context, ids []uuid.UUID) ([]Product, error)

	// ReserveStep builds a step that reserves the stock lines picked by lines under a
	// new reservation id and releases them when a later step fails.
	ReserveStep(name string, lines func(rc *workflow.RunContext) []persistence.StockLine) *workflow.Step

	// DecrementWorkflow builds the decrement process for the reservation picked by
	// reservation. The result is a node that can run on its own or inside a larger
	// workflow sharing the same tenant transaction.
	DecrementWorkflow(reservation func(rc *workflow.RunContext) uuid.UUID) *workflow.Workflow
}

// Config wires the inventory service.
type Config struct {
	Guard      *persistence.TenantGuard
	Runner     *workflow.Runner
	Repo       domainrepo.Repository
	Dispatcher Dispatcher
	Logger     *zap.Logger
}

type service struct {
	guard      *persistence.TenantGuard
	runner     *workflow.Runner
	repo       domainrepo.Repository
	dispatcher Dispatcher
	logger     *zap.Logger

	decrement *workflow.Workflow
}

// New builds an inventory Service.
func New(cfg Config) Service {
	if cfg.Guard == nil {
		panic("tenant guard is required")
	}
	if cfg.Runner == nil {
		panic("workflow runner is required")
	}
	if cfg.Repo == nil {
		panic("inventory repository is required")
	}
	if cfg.Dispatcher == nil {
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
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}
	s.decrement = s.DecrementWorkflow(func(rc *workflow.RunContext) uuid.UUID {
		return workflow.Input[DecrementInput](rc).ReservationID
	})
	return s
}

func (s *service) CreateProduct(ctx context.Context, audit requesttrace.AuditInfo, input CreateProductInput) (Product, error) {
	params, validationErr := validateCreateInput(input)
	if validationErr != nil {
		return Product{}, validationErr
	}

	record, err := persistence.RunInTenantScopeFromRequest(ctx, s.guard, func(ctx context.Context, tx *persistence.TenantTx) (persistence.Product, error) {
		return s.repo.CreateProduct(ctx, tx, params)
	}, tenantOverride(audit))
	if err != nil {
		return Product{}, mapError(err)
	}
	return mapProduct(record), nil
}

func (s *service) GetProduct(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID) (Product, error) {
	if id == uuid.Nil {
		return Product{}, &ValidationError{Fields: FieldErrors{"productId": {"product id is required"}}}
	}
	record, err := persistence.RunInTenantScopeFromRequest(ctx, s.guard, func(ctx context.Context, tx *persistence.TenantTx) (persistence.Product, error) {
		return s.repo.GetProduct(ctx, tx, id)
	}, tenantOverride(audit))
	if err != nil {
		return Product{}, mapError(err)
	}
	return mapProduct(record), nil
}

func (s *service) ListProducts(ctx context.Context, audit requesttrace.AuditInfo, page, pageSize int) ([]Product, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	records, err := persistence.RunInTenantScopeFromRequest(ctx, s.guard, func(ctx context.Context, tx *persistence.TenantTx) ([]persistence.Product, error) {
		return s.repo.ListProducts(ctx, tx, pageSize, (page-1)*pageSize)
	}, tenantOverride(audit))
	if err != nil {
		return nil, mapError(err)
	}
	return mapProducts(records), nil
}

func (s *service) SetStock(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID, input SetStockInput) (Product, error) {
	fields := FieldErrors{}
	if input.OnHand < 0 {
		fields.add("onHand", "must be zero or greater")
	}
	if input.LowStockThreshold != nil && *input.LowStockThreshold < 0 {
		fields.add("lowStockThreshold", "must be zero or greater")
	}
	if len(fields) > 0 {
		return Product{}, &ValidationError{Fields: fields}
	}

	record, err := persistence.RunInTenantScopeFromRequest(ctx, s.guard, func(ctx context.Context, tx *persistence.TenantTx) (persistence.Product, error) {
		return s.repo.SetStock(ctx, tx, id, input.OnHand, input.LowStockThreshold)
	}, tenantOverride(audit))
	if err != nil {
		return Product{}, mapError(err)
	}
	return mapProduct(record), nil
}

func (s *service) DecrementReservation(ctx context.Context, audit requesttrace.AuditInfo, reservationID uuid.UUID) (DecrementResult, error) {
	if reservationID == uuid.Nil {
		return DecrementResult{}, &ValidationError{Fields: FieldErrors{"reservationId": {"reservation id is required"}}}
	}

	return persistence.RunInTenantScopeFromRequest(ctx, s.guard, func(ctx context.Context, tx *persistence.TenantTx) (DecrementResult, error) {
		res := s.runner.Run(ctx, s.decrement, DecrementInput{ReservationID: reservationID})
		if err := res.Err(); err != nil {
			return DecrementResult{}, err
		}

		out := DecrementResult{
			ReservationID: reservationID,
			Products:      mapProducts(workflow.MustValue[[]persistence.Product](res.Context, StepDecrementStock)),
		}
		if ids, ok := workflow.Value[[]string](res.Context, StepNotifyLowStock); ok {
			out.LowStockTasks = ids
		}
		return out, nil
	}, tenantOverride(audit))
}

// Reconcile recomputes reserved stock for the products named in a reconcile job.
func (s *service) Reconcile(ctx context.Context, payload queue.ReconcilePayload) (int64, error) {
	ids := make([]uuid.UUID, 0, len(payload.ProductIDs))
	for _, raw := range payload.ProductIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return 0, &ValidationError{Fields: FieldErrors{"productIds": {fmt.Sprintf("invalid product id %q", raw)}}}
		}
		ids = append(ids, id)
	}

	fixed, err := persistence.RunInTenantScope(ctx, s.guard, payload.TenantID, func(ctx context.Context, tx *persistence.TenantTx) (int64, error) {
		return s.repo.Reconcile(ctx, tx, ids)
	})
	if err != nil {
		return 0, err
	}
	if fixed > 0 {
		platformlogging.FromContextOr(ctx, s.logger).Warn("reserved stock drifted from open reservations",
			zap.String("tenant_id", payload.TenantID),
			zap.Int64("products_corrected", fixed),
		)
	}
	return fixed, nil
}

func (s *service) LockProducts(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	tx, err := persistence.TxFromContext(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.LockProducts(ctx, tx, ids)
	if err != nil {
		return nil, mapError(err)
	}
	return mapProducts(records), nil
}

func (s *service) ReserveStep(name string, lines func(rc *workflow.RunContext) []persistence.StockLine) *workflow.Step {
	if lines == nil {
		panic("stock line selector is required")
	}
	return workflow.CreateStepWithCompensation(name,
		func(ctx context.Context, rc *workflow.RunContext) (uuid.UUID, error) {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return uuid.Nil, err
			}
			id := uuid.New()
			if err := s.repo.Reserve(ctx, tx, id, lines(rc)); err != nil {
				return uuid.Nil, mapError(err)
			}
			return id, nil
		},
		func(ctx context.Context, _ *workflow.RunContext, id uuid.UUID) error {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return err
			}
			return s.repo.Release(ctx, tx, id)
		},
	).Transactional()
}

func (s *service) DecrementWorkflow(reservation func(rc *workflow.RunContext) uuid.UUID) *workflow.Workflow {
	if reservation == nil {
		panic("reservation selector is required")
	}

	loadReservation := workflow.CreateStep(StepLoadReservation, func(ctx context.Context, rc *workflow.RunContext) (persistence.Reservation, error) {
		tx, err := persistence.TxFromContext(ctx)
		if err != nil {
			return persistence.Reservation{}, err
		}
		id := reservation(rc)
		r, err := s.repo.GetReservation(ctx, tx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Reservation{}, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
		}
		if err != nil {
			return persistence.Reservation{}, err
		}
		if r.Status != persistence.ReservationOpen {
			return persistence.Reservation{}, fmt.Errorf("%w: reservation %s is %s", ErrReservationClosed, id, r.Status)
		}
		return r, nil
	})

	decrementStock := workflow.CreateStepWithCompensation(StepDecrementStock,
		func(ctx context.Context, rc *workflow.RunContext) ([]persistence.Product, error) {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return nil, err
			}
			r := workflow.MustValue[persistence.Reservation](rc, StepLoadReservation)
			products, err := s.repo.Decrement(ctx, tx, r.ID)
			if err != nil {
				return nil, mapError(err)
			}
			return products, nil
		},
		func(ctx context.Context, rc *workflow.RunContext, _ []persistence.Product) error {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return err
			}
			r := workflow.MustValue[persistence.Reservation](rc, StepLoadReservation)
			return s.repo.Restock(ctx, tx, r.ID)
		},
	).Transactional()

	commitReservation := workflow.CreateStepWithCompensation(StepCommitReservation,
		func(ctx context.Context, rc *workflow.RunContext) (uuid.UUID, error) {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return uuid.Nil, err
			}
			r := workflow.MustValue[persistence.Reservation](rc, StepLoadReservation)
			if err := s.repo.TransitionReservation(ctx, tx, r.ID, persistence.ReservationOpen, persistence.ReservationCommitted); err != nil {
				return uuid.Nil, mapError(err)
			}
			return r.ID, nil
		},
		func(ctx context.Context, _ *workflow.RunContext, id uuid.UUID) error {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return err
			}
			return s.repo.TransitionReservation(ctx, tx, id, persistence.ReservationCommitted, persistence.ReservationOpen)
		},
	).Transactional()

	notifyLowStock := workflow.CreateStep(StepNotifyLowStock, func(ctx context.Context, rc *workflow.RunContext) ([]string, error) {
		tx, err := persistence.TxFromContext(ctx)
		if err != nil {
			return nil, err
		}
		logger := platformlogging.FromContextOr(ctx, s.logger)

		var taskIDs []string
		for _, p := range workflow.MustValue[[]persistence.Product](rc, StepDecrementStock) {
			if !p.LowOnStock() {
				continue
			}
			id, err := s.dispatcher.EnqueueLowStock(ctx, queue.LowStockPayload{
				TenantID:  tx.TenantID().String(),
				ProductID: p.ID.String(),
				SKU:       p.SKU,
				OnHand:    int64(p.OnHand),
				Threshold: int64(p.LowStockThreshold),
			})
			if err != nil {
				// Alerts are advisory; a broker outage must not undo a sale.
				logger.Warn("low stock alert not enqueued", zap.String("product_id", p.ID.String()), zap.Error(err))
				continue
			}
			taskIDs = append(taskIDs, id)
		}
		return taskIDs, nil
	})

	return workflow.CreateWorkflow(DecrementWorkflowName,
		loadReservation,
		decrementStock,
		commitReservation,
		workflow.When(BranchLowStock, func(rc *workflow.RunContext) bool {
			for _, p := range workflow.MustValue[[]persistence.Product](rc, StepDecrementStock) {
				if p.LowOnStock() {
					return true
				}
			}
			return false
		}, notifyLowStock),
	)
}

func validateCreateInput(input CreateProductInput) (persistence.CreateProductParams, error) {
	fields := FieldErrors{}

	sku := strings.ToUpper(strings.TrimSpace(input.SKU))
	if sku == "" {
		fields.add("sku", "sku is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		fields.add("name", "name is required")
	}
	if input.UnitPrice < 0 {
		fields.add("unitPrice", "must be zero or greater")
	}
	if input.OnHand < 0 {
		fields.add("onHand", "must be zero or greater")
	}
	threshold := 5
	if input.LowStockThreshold != nil {
		threshold = *input.LowStockThreshold
		if threshold < 0 {
			fields.add("lowStockThreshold", "must be zero or greater")
		}
	}
	if len(fields) > 0 {
		return persistence.CreateProductParams{}, &ValidationError{Fields: fields}
	}

	return persistence.CreateProductParams{
		ID:                uuid.New(),
		SKU:               sku,
		Name:              name,
		UnitPrice:         input.UnitPrice,
		OnHand:            input.OnHand,
		LowStockThreshold: threshold,
	}, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, persistence.ErrConflict):
		return ErrConflict
	case errors.Is(err, persistence.ErrInsufficientStock):
		return fmt.Errorf("%w: %w", ErrInsufficientStock, err)
	case errors.Is(err, persistence.ErrStateConflict):
		return fmt.Errorf("%w: %w", ErrReservationClosed, err)
	}
	return err
}

func tenantOverride(audit requesttrace.AuditInfo) string {
	if audit.TenantID == nil {
		return ""
	}
	return *audit.TenantID
}

func mapProducts(records []persistence.Product) []Product {
	out := make([]Product, 0, len(records))
	for _, r := range records {
		out = append(out, mapProduct(r))
	}
	return out
}

func mapProduct(p persistence.Product) Product {
	return Product{
		ID:                p.ID,
		SKU:               p.SKU,
		Name:              p.Name,
		UnitPrice:         p.UnitPrice,
		OnHand:            p.OnHand,
		Reserved:          p.Reserved,
		Available:         p.Available(),
		LowStockThreshold: p.LowStockThreshold,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}
