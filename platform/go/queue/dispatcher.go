package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
)

// Enqueuer is the part of asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher validates and enqueues background tasks. Delivery is at least once:
// handlers must tolerate duplicates and tasks whose originating transaction rolled back.
type Dispatcher struct {
	client    Enqueuer
	validator *PayloadValidator
	logger    *zap.Logger
}

func NewDispatcher(client Enqueuer, logger *zap.Logger) *Dispatcher {
	if client == nil {
		panic("queue: enqueuer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{client: client, validator: NewPayloadValidator(), logger: logger}
}

// NewRedisClient opens the asynq client used in production.
func NewRedisClient(addr, password string, db int) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{Addr: addr, Password: password, DB: db})
}

// Dispatch marshals payload, validates it against the task schema and enqueues it.
func (d *Dispatcher) Dispatch(ctx context.Context, taskType string, payload any, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	if err := d.validator.Validate(taskType, data); err != nil {
		return "", err
	}

	options := append(append([]asynq.Option(nil), defaultOptions[taskType]...), opts...)
	logger := logging.FromContextOr(ctx, d.logger)

	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(taskType, data), options...)
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		logger.Debug("task already enqueued", zap.String("task_type", taskType))
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}

	logger.Debug("task enqueued", zap.String("task_type", taskType), zap.String("task_id", info.ID), zap.String("queue", info.Queue))
	return info.ID, nil
}

func (d *Dispatcher) EnqueueReconcile(ctx context.Context, p ReconcilePayload) (string, error) {
	return d.Dispatch(ctx, TypeInventoryReconcile, p)
}

func (d *Dispatcher) EnqueueLowStock(ctx context.Context, p LowStockPayload) (string, error) {
	// one alert per product per hour is plenty
	return d.Dispatch(ctx, TypeInventoryLowStock, p, asynq.Unique(time.Hour))
}

func (d *Dispatcher) EnqueuePaymentSettled(ctx context.Context, p PaymentSettledPayload) (string, error) {
	return d.Dispatch(ctx, TypePaymentSettled, p, asynq.TaskID("payment-settled:"+p.PaymentID))
}

func (d *Dispatcher) EnqueueEscalation(ctx context.Context, p EscalationPayload) (string, error) {
	return d.Dispatch(ctx, TypeOpsEscalation, p)
}
