package workflow

//go:generate go run ./internal/schema ../../workflow.schema.json

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema generates a JSON schema for the workflow document
func GenerateSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{ExpandedStruct: true, AllowAdditionalProperties: true, RequiredFromJSONSchemaTags: true}
	s := r.Reflect(&Workflow{})
	s.Title = "Workflow"
	return s
}

// SchemaJSON returns the indented JSON representation of the workflow schema
func SchemaJSON() ([]byte, error) {
	b, err := json.MarshalIndent(GenerateSchema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow schema: %w", err)
	}
	return b, nil
}
