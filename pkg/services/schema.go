package services

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// validateInput checks input against a tool's JSON schema. An empty schema accepts anything.
func validateInput(schema map[string]any, input map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	if input == nil {
		input = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(input)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(errors, "; "))
	}

	return nil
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}

	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}

		return out
	default:
		return v
	}
}
