// Package contracts embeds the OpenAPI documents the API validates requests against.
package contracts

import (
	"embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	Commerce = "commerce.yaml"
	Tenants  = "tenants.yaml"
)

//go:embed *.yaml
var files embed.FS

// Load parses and validates the named document.
func Load(name string) (*openapi3.T, error) {
	data, err := files.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read contract %s: %w", name, err)
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("parse contract %s: %w", name, err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate contract %s: %w", name, err)
	}
	return doc, nil
}
