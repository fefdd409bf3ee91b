package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainrepo "github.com/zenGate-Global/palmyra-commerce/domains/inventory/be/repo"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence/pgxtest"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/queue"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

var acme = uuid.MustParse("0b6f3c1e-9f0a-4c0e-8a55-2f1d6c1e7a10")

type fakeDispatcher struct {
	mu       sync.Mutex
	err      error
	lowStock []queue.LowStockPayload
}

func (d *fakeDispatcher) EnqueueLowStock(_ context.Context, p queue.LowStockPayload) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.lowStock = append(d.lowStock, p)
	return "task-" + p.ProductID, nil
}

type failingCommit struct {
	*domainrepo.MemoryRepository
}

func (f failingCommit) TransitionReservation(context.Context, *persistence.TenantTx, uuid.UUID, persistence.ReservationStatus, persistence.ReservationStatus) error {
	return errors.New("lock timeout")
}

type fixture struct {
	svc        Service
	repo       *domainrepo.MemoryRepository
	pool       *pgxtest.Pool
	guard      *persistence.TenantGuard
	dispatcher *fakeDispatcher
	audit      requesttrace.AuditInfo
}

func newFixture(t *testing.T, wrap ...func(*domainrepo.MemoryRepository) domainrepo.Repository) fixture {
	t.Helper()

	mem := domainrepo.NewMemoryRepository()
	var repo domainrepo.Repository = mem
	if len(wrap) > 0 {
		repo = wrap[0](mem)
	}

	pool := &pgxtest.Pool{}
	guard := persistence.NewTenantGuard(persistence.TenantGuardConfig{Pool: pool})
	dispatcher := &fakeDispatcher{}
	logger := zaptest.NewLogger(t)
	tenantID := acme.String()

	return fixture{
		svc: New(Config{
			Guard:      guard,
			Runner:     workflow.NewRunner(logger),
			Repo:       repo,
			Dispatcher: dispatcher,
			Logger:     logger,
		}),
		repo:       mem,
		pool:       pool,
		guard:      guard,
		dispatcher: dispatcher,
		audit:      requesttrace.AuditInfo{ActorKind: requesttrace.ActorKindUser, TenantID: &tenantID},
	}
}

func (f fixture) reserve(t *testing.T, lines ...persistence.StockLine) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.guard.Run(context.Background(), acme.String(), func(ctx context.Context, tx *persistence.TenantTx) error {
		return f.repo.Reserve(ctx, tx, id, lines)
	}))
	return id
}

func TestDecrementReservationCommitsAndAlertsLowStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	widget := persistence.Product{ID: uuid.New(), SKU: "W-1", Name: "Widget", UnitPrice: 1500, OnHand: 5, LowStockThreshold: 2}
	gadget := persistence.Product{ID: uuid.New(), SKU: "G-1", Name: "Gadget", UnitPrice: 900, OnHand: 50, LowStockThreshold: 2}
	f.repo.Seed(acme, widget)
	f.repo.Seed(acme, gadget)
	reservation := f.reserve(t,
		persistence.StockLine{ProductID: widget.ID, Quantity: 4},
		persistence.StockLine{ProductID: gadget.ID, Quantity: 1},
	)

	result, err := f.svc.DecrementReservation(context.Background(), f.audit, reservation)
	require.NoError(t, err)
	require.Equal(t, reservation, result.ReservationID)
	require.Len(t, result.Products, 2)
	require.Equal(t, []string{"task-" + widget.ID.String()}, result.LowStockTasks)

	require.Len(t, f.dispatcher.lowStock, 1)
	require.Equal(t, queue.LowStockPayload{
		TenantID:  acme.String(),
		ProductID: widget.ID.String(),
		SKU:       "W-1",
		OnHand:    1,
		Threshold: 2,
	}, f.dispatcher.lowStock[0])

	stored, _ := f.repo.Product(acme, widget.ID)
	require.Equal(t, 1, stored.OnHand)
	require.Zero(t, stored.Reserved)
	res, _ := f.repo.Reservation(acme, reservation)
	require.Equal(t, persistence.ReservationCommitted, res.Status)
	require.Equal(t, 1, f.pool.Last().Commits)
}

func TestDecrementReservationSkipsAlertWhenStockIsHealthy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	gadget := persistence.Product{ID: uuid.New(), SKU: "G-1", Name: "Gadget", UnitPrice: 900, OnHand: 50, LowStockThreshold: 2}
	f.repo.Seed(acme, gadget)
	reservation := f.reserve(t, persistence.StockLine{ProductID: gadget.ID, Quantity: 3})

	result, err := f.svc.DecrementReservation(context.Background(), f.audit, reservation)
	require.NoError(t, err)
	require.Empty(t, result.LowStockTasks)
	require.Empty(t, f.dispatcher.lowStock)
}

func TestDecrementReservationRejectsClosedReservation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	gadget := persistence.Product{ID: uuid.New(), SKU: "G-1", Name: "Gadget", UnitPrice: 900, OnHand: 10}
	f.repo.Seed(acme, gadget)
	reservation := f.reserve(t, persistence.StockLine{ProductID: gadget.ID, Quantity: 3})

	_, err := f.svc.DecrementReservation(context.Background(), f.audit, reservation)
	require.NoError(t, err)

	_, err = f.svc.DecrementReservation(context.Background(), f.audit, reservation)
	require.ErrorIs(t, err, ErrReservationClosed)
	require.ErrorIs(t, err, workflow.ErrStepFailure)
	require.Equal(t, 1, f.pool.Last().Rollbacks)

	stored, _ := f.repo.Product(acme, gadget.ID)
	require.Equal(t, 7, stored.OnHand)

	_, err = f.svc.DecrementReservation(context.Background(), f.audit, uuid.New())
	require.ErrorIs(t, err, ErrReservationNotFound)
}

func TestDecrementReservationRestocksWhenCommitFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(m *domainrepo.MemoryRepository) domainrepo.Repository { return failingCommit{m} })
	gadget := persistence.Product{ID: uuid.New(), SKU: "G-1", Name: "Gadget", UnitPrice: 900, OnHand: 10}
	f.repo.Seed(acme, gadget)
	reservation := f.reserve(t, persistence.StockLine{ProductID: gadget.ID, Quantity: 3})

	_, err := f.svc.DecrementReservation(context.Background(), f.audit, reservation)
	require.Error(t, err)

	var runErr *workflow.RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, workflow.StateCompensated, runErr.State)
	require.Equal(t, StepCommitReservation, runErr.Failure.Step)

	stored, _ := f.repo.Product(acme, gadget.ID)
	require.Equal(t, 10, stored.OnHand)
	require.Equal(t, 3, stored.Reserved)
}

func TestDecrementReservationToleratesAlertOutage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dispatcher.err = errors.New("redis unavailable")
	widget := persistence.Product{ID: uuid.New(), SKU: "W-1", Name: "Widget", UnitPrice: 1500, OnHand: 3, LowStockThreshold: 2}
	f.repo.Seed(acme, widget)
	reservation := f.reserve(t, persistence.StockLine{ProductID: widget.ID, Quantity: 2})

	result, err := f.svc.DecrementReservation(context.Background(), f.audit, reservation)
	require.NoError(t, err)
	require.Empty(t, result.LowStockTasks)
}

func TestDecrementReservationNeedsTenant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.DecrementReservation(context.Background(), requesttrace.Anonymous(""), uuid.New())
	require.ErrorIs(t, err, persistence.ErrTenantContextUnavailable)
	require.Zero(t, f.pool.Begins)
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	gadget := persistence.Product{ID: uuid.New(), SKU: "G-1", Name: "Gadget", UnitPrice: 900, OnHand: 10, Reserved: 6}
	f.repo.Seed(acme, gadget)
	f.reserve(t, persistence.StockLine{ProductID: gadget.ID, Quantity: 2})

	_, err := f.svc.Reconcile(context.Background(), queue.ReconcilePayload{TenantID: acme.String(), ProductIDs: []string{"nope"}})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	fixed, err := f.svc.Reconcile(context.Background(), queue.ReconcilePayload{TenantID: acme.String(), ProductIDs: []string{gadget.ID.String()}})
	require.NoError(t, err)
	require.EqualValues(t, 1, fixed)

	stored, _ := f.repo.Product(acme, gadget.ID)
	require.Equal(t, 2, stored.Reserved)

	_, err = f.svc.Reconcile(context.Background(), queue.ReconcilePayload{TenantID: "acme"})
	require.ErrorIs(t, err, persistence.ErrInvalidTenant)
}

func TestCreateProductValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	negative := -1
	_, err := f.svc.CreateProduct(context.Background(), f.audit, CreateProductInput{UnitPrice: -5, LowStockThreshold: &negative})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "sku")
	require.Contains(t, validationErr.Fields, "name")
	require.Contains(t, validationErr.Fields, "unitPrice")
	require.Contains(t, validationErr.Fields, "lowStockThreshold")
	require.Zero(t, f.pool.Begins)

	created, err := f.svc.CreateProduct(context.Background(), f.audit, CreateProductInput{SKU: " w-1 ", Name: "Widget", UnitPrice: 1500, OnHand: 4})
	require.NoError(t, err)
	require.Equal(t, "W-1", created.SKU)
	require.Equal(t, 5, created.LowStockThreshold)
	require.Equal(t, 4, created.Available)

	_, err = f.svc.CreateProduct(context.Background(), f.audit, CreateProductInput{SKU: "W-1", Name: "Dup", UnitPrice: 1})
	require.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.SetStock(context.Background(), f.audit, created.ID, SetStockInput{OnHand: -1})
	require.ErrorAs(t, err, &validationErr)

	updated, err := f.svc.SetStock(context.Background(), f.audit, created.ID, SetStockInput{OnHand: 9})
	require.NoError(t, err)
	require.Equal(t, 9, updated.OnHand)

	_, err = f.svc.GetProduct(context.Background(), f.audit, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
