package tools

import (
	"encoding/json"
	"fmt"
)

// argSchema is the subset of JSON Schema the registry validates against:
// an object with typed properties, enums, and a required list. Tools that
// need richer validation do it inside Execute.
type argSchema struct {
	Type       string                `json:"type"`
	Properties map[string]argPropDef `json:"properties"`
	Required   []string              `json:"required"`
}

type argPropDef struct {
	Type string   `json:"type"`
	Enum []string `json:"enum"`
}

// validateArgs checks raw JSON arguments against the tool's parameter schema.
// It verifies that args decode to an object, every required property is
// present, every known property has the declared JSON type, and enum values
// are respected. Unknown properties are tolerated.
func validateArgs(schema json.RawMessage, args json.RawMessage) error {
	var s argSchema
	if err := json.Unmarshal(schema, &s); err != nil {
		return fmt.Errorf("invalid tool schema: %w", err)
	}
	if s.Type != "" && s.Type != "object" {
		return fmt.Errorf("unsupported schema root type %q", s.Type)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var values map[string]any
	if err := json.Unmarshal(args, &values); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %w", err)
	}

	for _, name := range s.Required {
		if _, ok := values[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	for name, value := range values {
		def, known := s.Properties[name]
		if !known {
			continue
		}
		if err := checkValueType(name, value, def); err != nil {
			return err
		}
	}

	return nil
}

func checkValueType(name string, value any, def argPropDef) error {
	switch def.Type {
	case "", "object":
		// No type constraint, or nested object: accept as-is.
		return nil
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
		if len(def.Enum) > 0 && !containsString(def.Enum, s) {
			return fmt.Errorf("argument %q must be one of %v", name, def.Enum)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "integer":
		f, ok := value.(float64)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("argument %q must be an integer", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("argument %q must be an array", name)
		}
	default:
		return fmt.Errorf("argument %q has unsupported schema type %q", name, def.Type)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
