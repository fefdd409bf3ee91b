package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/notify"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/queue"
)

// Reconciler recomputes reserved stock.
type Reconciler interface {
	Reconcile(ctx context.Context, payload queue.ReconcilePayload) (int64, error)
}

// SettlementConfirmer checks settled payments against the ledger.
type SettlementConfirmer interface {
	ConfirmSettlement(ctx context.Context, payload queue.PaymentSettledPayload) error
}

type taskHandlers struct {
	inventory    Reconciler
	payments     SettlementConfirmer
	notifier     notify.Sender
	opsRecipient string
	logger       *zap.Logger
}

func (h *taskHandlers) register(registry *queue.HandlersRegistry) {
	registry.Register(queue.TypeInventoryReconcile, asynq.HandlerFunc(h.reconcile))
	registry.Register(queue.TypeInventoryLowStock, asynq.HandlerFunc(h.lowStock))
	registry.Register(queue.TypePaymentSettled, asynq.HandlerFunc(h.paymentSettled))
	registry.Register(queue.TypeOpsEscalation, asynq.HandlerFunc(h.escalation))
}

func (h *taskHandlers) reconcile(ctx context.Context, task *asynq.Task) error {
	p, err := queue.Decode[queue.ReconcilePayload](task)
	if err != nil {
		return err
	}
	changed, err := h.inventory.Reconcile(ctx, p)
	if err != nil {
		return fmt.Errorf("reconcile tenant %s: %w", p.TenantID, err)
	}
	platformlogging.FromContextOr(ctx, h.logger).Info("inventory reconciled",
		zap.String("tenant_id", p.TenantID),
		zap.String("order_id", p.OrderID),
		zap.Int64("products_changed", changed),
	)
	return nil
}

func (h *taskHandlers) lowStock(ctx context.Context, task *asynq.Task) error {
	p, err := queue.Decode[queue.LowStockPayload](task)
	if err != nil {
		return err
	}
	return h.notifier.Send(ctx, notify.Notification{
		TenantID:  p.TenantID,
		Kind:      notify.KindLowStock,
		Recipient: h.opsRecipient,
		Data: map[string]any{
			"productId": p.ProductID,
			"sku":       p.SKU,
			"onHand":    p.OnHand,
			"threshold": p.Threshold,
		},
	})
}

func (h *taskHandlers) paymentSettled(ctx context.Context, task *asynq.Task) error {
	p, err := queue.Decode[queue.PaymentSettledPayload](task)
	if err != nil {
		return err
	}
	return h.payments.ConfirmSettlement(ctx, p)
}

// escalation never fails: the log line is the operator hand-off.
func (h *taskHandlers) escalation(ctx context.Context, task *asynq.Task) error {
	p, err := queue.Decode[queue.EscalationPayload](task)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Bool("escalation", true),
		zap.String("tenant_id", p.TenantID),
		zap.String("workflow", p.Workflow),
		zap.String("workflow_run_id", p.RunID),
		zap.String("state", p.State),
		zap.Int("compensation_failures", len(p.CompensationFailures)),
		zap.Int("faults", len(p.Faults)),
	}
	if p.Failure != nil {
		fields = append(fields, zap.String("failed_step", p.Failure.Step), zap.String("error", p.Failure.Message))
	}
	if len(p.CompensationFailures) > 0 {
		fields = append(fields, zap.Any("compensation_failure_details", p.CompensationFailures))
	}
	if len(p.Faults) > 0 {
		fields = append(fields, zap.Any("fault_details", p.Faults))
	}
	platformlogging.FromContextOr(ctx, h.logger).Error("workflow escalated to operator", fields...)
	return nil
}
