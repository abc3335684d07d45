package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/keenbench/engine/internal/llm"
)

// Tool parameter schemas double as input validators: the same JSON Schema sent
// to the provider is compiled once and checked against every tool call before
// dispatch, so malformed model output surfaces as a structured tool error
// instead of a handler panic or silent misparse.
var (
	toolSchemasOnce sync.Once
	toolSchemas     map[string]*jsonschema.Schema
	toolSchemasErr  error
)

func compiledToolSchemas() (map[string]*jsonschema.Schema, error) {
	toolSchemasOnce.Do(func() {
		toolSchemas, toolSchemasErr = compileToolSchemas(WorkshopTools)
	})
	return toolSchemas, toolSchemasErr
}

func compileToolSchemas(tools []llm.Tool) (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiled := make(map[string]*jsonschema.Schema, len(tools))
	for _, tool := range tools {
		name := tool.Function.Name
		if name == "" || len(tool.Function.Parameters) == 0 {
			continue
		}
		url := "tool:///" + name + ".json"
		if err := compiler.AddResource(url, strings.NewReader(string(tool.Function.Parameters))); err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		compiled[name] = schema
	}
	return compiled, nil
}

// validateToolArguments checks a tool call's raw arguments against the tool's
// parameter schema. Unknown tools pass through; Execute rejects them itself.
func validateToolArguments(name, argsJSON string) error {
	schemas, err := compiledToolSchemas()
	if err != nil {
		// A schema that fails to compile is a bug in WorkshopTools, not in
		// the model's call; do not block the tool over it.
		return nil
	}
	schema, ok := schemas[name]
	if !ok {
		return nil
	}
	raw := strings.TrimSpace(argsJSON)
	if raw == "" {
		raw = "{}"
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return workshopValidationError("arguments are not valid JSON")
	}
	if err := schema.Validate(value); err != nil {
		var validationErr *jsonschema.ValidationError
		if ok := asValidationError(err, &validationErr); ok {
			return workshopValidationError(flattenValidationError(validationErr))
		}
		return workshopValidationError(err.Error())
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}

// flattenValidationError picks the deepest leaf cause so the model sees the
// specific field problem rather than the root "doesn't validate" wrapper.
func flattenValidationError(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := strings.TrimPrefix(ve.InstanceLocation, "/")
	if loc == "" {
		return ve.Message
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(loc, "/", "."), ve.Message)
}
