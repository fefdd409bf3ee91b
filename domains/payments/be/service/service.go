package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/domains/payments/be/gateway"
	domainrepo "github.com/zenGate-Global/palmyra-commerce/domains/payments/be/repo"
	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/notify"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/queue"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError captures input validation problems surfaced by the service.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain-level error sentinel values.
var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrAlreadySettled  = errors.New("order is already settled")
	ErrNotPayable      = errors.New("order cannot be paid")

	ErrPaymentDeclined     = gateway.ErrDeclined
	ErrProviderUnavailable = gateway.ErrUnavailable
	ErrUnknownProvider     = gateway.ErrUnknownProvider
)

// Names of the settlement workflow and its steps.
const (
	SettleWorkflowName        = "settlePayment"
	StepLoadOrder             = "loadOrder"
	BranchNeedsAuthorization  = "needsAuthorization"
	StepAuthorizeCharge       = "authorizeCharge"
	StepRecordPayment         = "recordPayment"
	StepMarkOrderPaid         = "markOrderPaid"
	StepSendReceipt           = "sendReceipt"
	StepEnqueuePaymentSettled = "enqueuePaymentSettled"
)

// SettleInput settles one order. Provider overrides the order's provider for orders
// placed with deferred payment.
type SettleInput struct {
	OrderID  uuid.UUID
	Provider string
}

// Charge is a successful authorization together with what it held.
type Charge struct {
	TransactionID string
	Provider      string
	Amount        int64
	Currency      string
}

// Settlement summarizes a completed settlement.
type Settlement struct {
	OrderID       uuid.UUID
	PaymentID     uuid.UUID
	TransactionID string
	Provider      string
	Amount        int64
	Currency      string
	ReceiptSent   bool
	TaskID        string
}

// Payment is the tenant-facing view of a ledger entry.
type Payment struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	TransactionID string
	Provider      string
	Amount        int64
	Currency      string
	Status        string
	CreatedAt     time.Time
}

// Dispatcher is the slice of the background dispatcher payments uses.
type Dispatcher interface {
	EnqueuePaymentSettled(ctx context.Context, p queue.PaymentSettledPayload) (string, error)
}

// Service exposes payment settlement.
type Service interface {
	Settle(ctx context.Context, audit requesttrace.AuditInfo, input SettleInput) (Settlement, error)
	GetPayment(ctx context.Context, audit requesttrace.AuditInfo, orderID uuid.UUID) (Payment, error)
	ConfirmSettlement(ctx context.Context, payload queue.PaymentSettledPayload) error

	// ChargeStep builds a step that authorizes the charge described by request and
	// refunds it when a later step fails.
	ChargeStep(name string, request func(rc *workflow.RunContext) gateway.AuthorizeRequest) *workflow.Step
}

// Config wires the payments service.
type Config struct {
	Guard      *persistence.TenantGuard
	Runner     *workflow.Runner
	Repo       domainrepo.Repository
	Gateway    gateway.Gateway
	Notifier   notify.Sender
	Dispatcher Dispatcher
	Logger     *zap.Logger
}

type service struct {
	guard      *persistence.TenantGuard
	runner     *workflow.Runner
	repo       domainrepo.Repository
	gateway    gateway.Gateway
	notifier   notify.Sender
	dispatcher Dispatcher
	logger     *zap.Logger

	settle *workflow.Workflow
}

// New builds a payments Service.
func New(cfg Config) Service {
	if cfg.Guard == nil {
		panic("tenant guard is required")
	}
	if cfg.Runner == nil {
		panic("workflow runner is required")
	}
	if cfg.Repo == nil {
		panic("payments repository is required")
	}
	if cfg.Gateway == nil {
		panic("payment gateway is required")
	}
	if cfg.Notifier == nil {
		panic("notifier is required")
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
		gateway:    cfg.Gateway,
		notifier:   cfg.Notifier,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}
	s.settle = s.settleWorkflow()
	return s
}

func (s *service) Settle(ctx context.Context, audit requesttrace.AuditInfo, input SettleInput) (Settlement, error) {
	if input.OrderID == uuid.Nil {
		return Settlement{}, &ValidationError{Fields: FieldErrors{"orderId": {"order id is required"}}}
	}
	input.Provider = strings.ToLower(strings.TrimSpace(input.Provider))

	var (
		run    *workflow.Result
		runCtx context.Context
	)
	out, err := persistence.RunInTenantScopeFromRequest(ctx, s.guard, func(ctx context.Context, tx *persistence.TenantTx) (Settlement, error) {
		runCtx = ctx
		res := s.runner.Run(ctx, s.settle, input)
		run = res
		if err := res.Err(); err != nil {
			return Settlement{}, err
		}

		payment := workflow.MustValue[persistence.Payment](res.Context, StepRecordPayment)
		out := Settlement{
			OrderID:       payment.OrderID,
			PaymentID:     payment.ID,
			TransactionID: payment.TransactionID,
			Provider:      payment.Provider,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			ReceiptSent:   workflow.MustValue[bool](res.Context, StepSendReceipt),
			TaskID:        workflow.MustValue[string](res.Context, StepEnqueuePaymentSettled),
		}
		return out, nil
	}, tenantOverride(audit))
	if errors.Is(err, persistence.ErrCommitFailed) {
		s.runner.Unwind(runCtx, run, err)
	}
	return out, err
}

func (s *service) GetPayment(ctx context.Context, audit requesttrace.AuditInfo, orderID uuid.UUID) (Payment, error) {
	if orderID == uuid.Nil {
		return Payment{}, &ValidationError{Fields: FieldErrors{"orderId": {"order id is required"}}}
	}
	record, err := persistence.RunInTenantScopeFromRequest(ctx, s.guard, func(ctx context.Context, tx *persistence.TenantTx) (persistence.Payment, error) {
		return s.repo.GetSettledPayment(ctx, tx, orderID)
	}, tenantOverride(audit))
	if errors.Is(err, persistence.ErrNotFound) {
		return Payment{}, fmt.Errorf("%w: order %s", ErrPaymentNotFound, orderID)
	}
	if err != nil {
		return Payment{}, err
	}
	return mapPayment(record), nil
}

// ConfirmSettlement checks a payments:settled task against the ledger. Tasks whose
// originating transaction rolled back find no payment and are dropped.
func (s *service) ConfirmSettlement(ctx context.Context, payload queue.PaymentSettledPayload) error {
	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		return &ValidationError{Fields: FieldErrors{"orderId": {"must be a uuid"}}}
	}
	logger := platformlogging.FromContextOr(ctx, s.logger).With(
		zap.String("tenant_id", payload.TenantID),
		zap.String("order_id", payload.OrderID),
		zap.String("payment_id", payload.PaymentID),
	)

	_, err = persistence.RunInTenantScope(ctx, s.guard, payload.TenantID, func(ctx context.Context, tx *persistence.TenantTx) (struct{}, error) {
		payment, err := s.repo.GetSettledPayment(ctx, tx, orderID)
		if errors.Is(err, persistence.ErrNotFound) {
			logger.Info("settled payment not found; settlement was rolled back")
			return struct{}{}, nil
		}
		if err != nil {
			return struct{}{}, err
		}
		if payment.ID.String() != payload.PaymentID {
			logger.Warn("settlement task refers to a superseded payment", zap.String("settled_payment_id", payment.ID.String()))
			return struct{}{}, nil
		}

		order, err := s.repo.GetOrder(ctx, tx, orderID)
		if err != nil {
			return struct{}{}, err
		}
		if order.Status != persistence.OrderPaid {
			return struct{}{}, fmt.Errorf("order %s has a settled payment but is %s", orderID, order.Status)
		}
		logger.Info("payment settlement confirmed", zap.Int64("amount", payment.Amount), zap.String("currency", payment.Currency))
		return struct{}{}, nil
	})
	return err
}

func (s *service) ChargeStep(name string, request func(rc *workflow.RunContext) gateway.AuthorizeRequest) *workflow.Step {
	return workflow.CreateStepWithCompensation(name,
		func(ctx context.Context, rc *workflow.RunContext) (Charge, error) {
			req := request(rc)
			auth, err := s.gateway.Authorize(ctx, req)
			if err != nil {
				return Charge{}, err
			}
			return Charge{TransactionID: auth.TransactionID, Provider: auth.Provider, Amount: req.Amount, Currency: req.Currency}, nil
		},
		func(ctx context.Context, _ *workflow.RunContext, c Charge) error {
			if err := s.gateway.Refund(ctx, c.TransactionID, c.Amount); err != nil {
				return fmt.Errorf("refund %s: %w", c.TransactionID, err)
			}
			platformlogging.FromContextOr(ctx, s.logger).Info("charge refunded",
				zap.String("transaction_id", c.TransactionID),
				zap.Int64("amount", c.Amount),
			)
			return nil
		},
	)
}

func (s *service) settleWorkflow() *workflow.Workflow {
	loadOrder := workflow.CreateStep(StepLoadOrder, func(ctx context.Context, rc *workflow.RunContext) (persistence.Order, error) {
		tx, err := persistence.TxFromContext(ctx)
		if err != nil {
			return persistence.Order{}, err
		}
		input := workflow.Input[SettleInput](rc)
		order, err := s.repo.GetOrder(ctx, tx, input.OrderID)
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, input.OrderID)
		}
		if err != nil {
			return persistence.Order{}, err
		}
		switch order.Status {
		case persistence.OrderPendingPayment, persistence.OrderAuthorized:
			return order, nil
		case persistence.OrderPaid:
			return persistence.Order{}, fmt.Errorf("%w: %s", ErrAlreadySettled, order.ID)
		default:
			return persistence.Order{}, fmt.Errorf("%w: order %s is %s", ErrNotPayable, order.ID, order.Status)
		}
	})

	authorizeCharge := s.ChargeStep(StepAuthorizeCharge, func(rc *workflow.RunContext) gateway.AuthorizeRequest {
		order := workflow.MustValue[persistence.Order](rc, StepLoadOrder)
		provider := workflow.Input[SettleInput](rc).Provider
		if provider == "" {
			provider = order.PaymentProvider
		}
		return gateway.AuthorizeRequest{OrderID: order.ID, Amount: order.Total, Currency: order.Currency, Provider: provider}
	})

	recordPayment := workflow.CreateStepWithCompensation(StepRecordPayment,
		func(ctx context.Context, rc *workflow.RunContext) (persistence.Payment, error) {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return persistence.Payment{}, err
			}
			order := workflow.MustValue[persistence.Order](rc, StepLoadOrder)
			charge := chargeOf(rc, order)
			payment, err := s.repo.RecordPayment(ctx, tx, persistence.Payment{
				ID:            uuid.New(),
				OrderID:       order.ID,
				TransactionID: charge.TransactionID,
				Provider:      charge.Provider,
				Amount:        order.Total,
				Currency:      order.Currency,
			})
			if errors.Is(err, persistence.ErrConflict) {
				return persistence.Payment{}, fmt.Errorf("%w: %s", ErrAlreadySettled, order.ID)
			}
			return payment, err
		},
		func(ctx context.Context, _ *workflow.RunContext, p persistence.Payment) error {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return err
			}
			return s.repo.VoidPayment(ctx, tx, p.ID)
		},
	).Transactional()

	markOrderPaid := workflow.CreateStepWithCompensation(StepMarkOrderPaid,
		func(ctx context.Context, rc *workflow.RunContext) (persistence.OrderStatus, error) {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return "", err
			}
			order := workflow.MustValue[persistence.Order](rc, StepLoadOrder)
			if charge, ok := workflow.Value[Charge](rc, StepAuthorizeCharge); ok {
				txn := charge.TransactionID
				if err := s.repo.SetOrderTransaction(ctx, tx, order.ID, charge.Provider, &txn); err != nil {
					return "", err
				}
			}
			if err := s.repo.TransitionOrder(ctx, tx, order.ID, order.Status, persistence.OrderPaid); err != nil {
				return "", fmt.Errorf("%w: %w", ErrNotPayable, err)
			}
			return order.Status, nil
		},
		func(ctx context.Context, rc *workflow.RunContext, previous persistence.OrderStatus) error {
			tx, err := persistence.TxFromContext(ctx)
			if err != nil {
				return err
			}
			order := workflow.MustValue[persistence.Order](rc, StepLoadOrder)
			if err := s.repo.TransitionOrder(ctx, tx, order.ID, persistence.OrderPaid, previous); err != nil {
				return err
			}
			if _, ok := workflow.Value[Charge](rc, StepAuthorizeCharge); ok {
				return s.repo.SetOrderTransaction(ctx, tx, order.ID, order.PaymentProvider, order.TransactionID)
			}
			return nil
		},
	).Transactional()

	sendReceipt := workflow.CreateStep(StepSendReceipt, func(ctx context.Context, rc *workflow.RunContext) (bool, error) {
		tx, err := persistence.TxFromContext(ctx)
		if err != nil {
			return false, err
		}
		order := workflow.MustValue[persistence.Order](rc, StepLoadOrder)
		payment := workflow.MustValue[persistence.Payment](rc, StepRecordPayment)
		err = s.notifier.Send(ctx, notify.Notification{
			TenantID:  tx.TenantID().String(),
			Kind:      notify.KindPaymentReceipt,
			Recipient: order.CustomerEmail,
			Data: map[string]any{
				"orderId":       order.ID.String(),
				"paymentId":     payment.ID.String(),
				"transactionId": payment.TransactionID,
				"amount":        payment.Amount,
				"currency":      payment.Currency,
			},
		})
		if err != nil {
			platformlogging.FromContextOr(ctx, s.logger).Warn("payment receipt not sent", zap.String("order_id", order.ID.String()), zap.Error(err))
			return false, nil
		}
		return true, nil
	})

	enqueueSettled := workflow.CreateStep(StepEnqueuePaymentSettled, func(ctx context.Context, rc *workflow.RunContext) (string, error) {
		tx, err := persistence.TxFromContext(ctx)
		if err != nil {
			return "", err
		}
		payment := workflow.MustValue[persistence.Payment](rc, StepRecordPayment)
		return s.dispatcher.EnqueuePaymentSettled(ctx, queue.PaymentSettledPayload{
			TenantID:  tx.TenantID().String(),
			OrderID:   payment.OrderID.String(),
			PaymentID: payment.ID.String(),
			Amount:    payment.Amount,
			Currency:  payment.Currency,
		})
	})

	return workflow.CreateWorkflow(SettleWorkflowName,
		loadOrder,
		workflow.When(BranchNeedsAuthorization, func(rc *workflow.RunContext) bool {
			return workflow.MustValue[persistence.Order](rc, StepLoadOrder).TransactionID == nil
		}, authorizeCharge),
		recordPayment,
		markOrderPaid,
		sendReceipt,
		enqueueSettled,
	)
}

// chargeOf returns the charge authorized in this run, or the one the order already holds.
func chargeOf(rc *workflow.RunContext, order persistence.Order) Charge {
	if charge, ok := workflow.Value[Charge](rc, StepAuthorizeCharge); ok {
		return charge
	}
	return Charge{TransactionID: *order.TransactionID, Provider: order.PaymentProvider, Amount: order.Total, Currency: order.Currency}
}

func tenantOverride(audit requesttrace.AuditInfo) string {
	if audit.TenantID == nil {
		return ""
	}
	return *audit.TenantID
}

func mapPayment(p persistence.Payment) Payment {
	return Payment{
		ID:            p.ID,
		OrderID:       p.OrderID,
		TransactionID: p.TransactionID,
		Provider:      p.Provider,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt,
	}
}
