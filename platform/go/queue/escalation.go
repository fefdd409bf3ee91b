package queue

import (
	"context"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

// EscalationSink forwards workflow incidents to the critical queue.
func EscalationSink(d *Dispatcher) workflow.Escalator {
	return workflow.EscalatorFunc(func(ctx context.Context, in workflow.Incident) error {
		_, err := d.EnqueueEscalation(ctx, NewEscalationPayload(ctx, in))
		return err
	})
}

// NewEscalationPayload converts an incident, taking the tenant from the open scope or
// the ambient request context.
func NewEscalationPayload(ctx context.Context, in workflow.Incident) EscalationPayload {
	p := EscalationPayload{
		Workflow:             in.Workflow,
		RunID:                in.RunID,
		State:                string(in.State),
		Failure:              stepError(in.Failure),
		CompensationFailures: stepErrors(in.CompensationFailures),
		Faults:               stepErrors(in.Faults),
	}
	if id, ok := persistence.ScopedTenantID(ctx); ok {
		p.TenantID = id.String()
	} else {
		p.TenantID = tenant.AmbientID(ctx)
	}
	return p
}

func stepError(info *workflow.ErrorInfo) *StepError {
	if info == nil {
		return nil
	}
	return &StepError{Step: info.Step, Kind: string(info.Kind), Message: info.Message}
}

func stepErrors(infos []*workflow.ErrorInfo) []StepError {
	out := make([]StepError, 0, len(infos))
	for _, info := range infos {
		out = append(out, *stepError(info))
	}
	return out
}
