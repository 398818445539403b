package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaFor reflects a JSON Schema object from a Go value. Nested types are
// inlined so the schema can be handed to a model as a tool input schema.
func SchemaFor(v any) map[string]any {
	r := &invopop.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("marshal reflected schema: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("decode reflected schema: %v", err))
	}
	delete(out, "$id")
	delete(out, "$schema")
	return out
}

// Validator checks raw model output against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles schema under the given resource name.
func NewValidator(name string, schema map[string]any) (*Validator, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Validator{schema: sch}, nil
}

// MustValidator is NewValidator for schemas reflected at init time.
func MustValidator(name string, schema map[string]any) *Validator {
	v, err := NewValidator(name, schema)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate reports whether raw is JSON conforming to the schema.
func (v *Validator) Validate(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty document")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
