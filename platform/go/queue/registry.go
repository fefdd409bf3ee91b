package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
)

// HandlersRegistry wires task handlers into an asynq mux. Every task is validated
// against its schema and gets a task-scoped logger before its handler runs.
type HandlersRegistry struct {
	mux       *asynq.ServeMux
	validator *PayloadValidator
	logger    *zap.Logger
}

func NewHandlersRegistry(logger *zap.Logger) *HandlersRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &HandlersRegistry{mux: asynq.NewServeMux(), validator: NewPayloadValidator(), logger: logger}
	r.mux.Use(r.observe)
	return r
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

// Mux is what asynq.Server.Run serves.
func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

func (r *HandlersRegistry) observe(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		logger := r.logger.With(zap.String("task_type", task.Type()))
		if id, ok := asynq.GetTaskID(ctx); ok {
			logger = logger.With(zap.String("task_id", id))
		}

		if err := r.validator.Validate(task.Type(), task.Payload()); err != nil {
			logger.Error("dropping task with invalid payload", zap.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}

		start := time.Now()
		err := next.ProcessTask(logging.WithLogger(ctx, logger), task)
		if err != nil {
			logger.Warn("task failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return err
		}
		logger.Info("task processed", zap.Duration("duration", time.Since(start)))
		return nil
	})
}

// Decode unmarshals a task payload.
func Decode[T any](task *asynq.Task) (T, error) {
	var out T
	if err := json.Unmarshal(task.Payload(), &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w: %w", task.Type(), err, asynq.SkipRetry)
	}
	return out, nil
}
