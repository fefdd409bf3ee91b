package queue

import (
	"time"

	"github.com/hibiken/asynq"
)

// Task types handled by the worker process.
const (
	TypeInventoryReconcile = "inventory:reconcile"
	TypeInventoryLowStock  = "inventory:low_stock"
	TypePaymentSettled     = "payments:settled"
	TypeOpsEscalation      = "ops:escalation"
)

// Queue names. Escalations go to their own queue so an operator backlog never waits
// behind routine work.
const (
	QueueDefault  = "default"
	QueueCritical = "critical"
)

// ReconcilePayload asks the worker to recompute reserved stock for products.
type ReconcilePayload struct {
	TenantID   string   `json:"tenantId"`
	OrderID    string   `json:"orderId,omitempty"`
	ProductIDs []string `json:"productIds"`
}

// LowStockPayload reports a product that dropped to its threshold.
type LowStockPayload struct {
	TenantID  string `json:"tenantId"`
	ProductID string `json:"productId"`
	SKU       string `json:"sku"`
	OnHand    int64  `json:"onHand"`
	Threshold int64  `json:"threshold"`
}

// PaymentSettledPayload announces a settled order payment.
type PaymentSettledPayload struct {
	TenantID  string `json:"tenantId"`
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// StepError is the wire form of a failed step or compensation.
type StepError struct {
	Step    string `json:"step"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// EscalationPayload hands a run the engine could not clean up to an operator.
type EscalationPayload struct {
	TenantID             string      `json:"tenantId,omitempty"`
	Workflow             string      `json:"workflow"`
	RunID                string      `json:"runId"`
	State                string      `json:"state"`
	Failure              *StepError  `json:"failure,omitempty"`
	CompensationFailures []StepError `json:"compensationFailures"`
	Faults               []StepError `json:"faults"`
}

// defaultOptions per task type; callers may append overrides.
var defaultOptions = map[string][]asynq.Option{
	TypeInventoryReconcile: {asynq.Queue(QueueDefault), asynq.MaxRetry(5), asynq.Timeout(time.Minute)},
	TypeInventoryLowStock:  {asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(30 * time.Second)},
	TypePaymentSettled:     {asynq.Queue(QueueDefault), asynq.MaxRetry(5), asynq.Timeout(30 * time.Second)},
	TypeOpsEscalation:      {asynq.Queue(QueueCritical), asynq.MaxRetry(25), asynq.Timeout(time.Minute)},
}
