package queue

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	TypeInventoryReconcile: "schemas/inventory_reconcile.json",
	TypeInventoryLowStock:  "schemas/inventory_low_stock.json",
	TypePaymentSettled:     "schemas/payments_settled.json",
	TypeOpsEscalation:      "schemas/ops_escalation.json",
}

// ErrInvalidPayload is returned when a payload does not match its task schema.
var ErrInvalidPayload = errors.New("invalid task payload")

// PayloadValidator validates task payloads against embedded JSON Schemas, compiling
// each schema once.
type PayloadValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func NewPayloadValidator() *PayloadValidator {
	return &PayloadValidator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks payload against the schema registered for taskType.
func (v *PayloadValidator) Validate(taskType string, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: %s: payload is required", ErrInvalidPayload, taskType)
	}

	compiled, err := v.getOrCompile(taskType)
	if err != nil {
		return err
	}

	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return fmt.Errorf("%w: %s: decode payload: %v", ErrInvalidPayload, taskType, err)
	}
	if err := compiled.Validate(document); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, taskType, err)
	}
	return nil
}

func (v *PayloadValidator) getOrCompile(taskType string) (*jsonschema.Schema, error) {
	v.mu.RLock()
	compiled, ok := v.cache[taskType]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if compiled, ok = v.cache[taskType]; ok {
		return compiled, nil
	}

	file, ok := schemaFiles[taskType]
	if !ok {
		return nil, fmt.Errorf("no schema registered for task type %q", taskType)
	}
	raw, err := schemaFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", file, err)
	}

	key := "memory://queue/" + file
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(key, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", key, err)
	}
	compiled, err = compiler.Compile(key)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", key, err)
	}

	v.cache[taskType] = compiled
	return compiled, nil
}
