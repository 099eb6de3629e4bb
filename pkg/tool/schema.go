package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// generateSchema reflects Args into an inline object schema.
//
// Supported tags:
//   - json:"name" - Parameter name
//   - jsonschema:"required" - Mark as required
//   - jsonschema:"description=..." - Parameter description
//   - jsonschema:"default=..." - Default value
//   - jsonschema:"minimum=N,maximum=M" - Numeric constraints
func generateSchema[Args any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(Args))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	out := map[string]any{
		"type":       "object",
		"properties": raw["properties"],
	}
	if out["properties"] == nil {
		out["properties"] = map[string]any{}
	}
	if req, ok := raw["required"]; ok && req != nil {
		out["required"] = req
	}
	if addl, ok := raw["additionalProperties"]; ok {
		out["additionalProperties"] = addl
	}
	return out, nil
}

// RequiredFields lists the required property names of an object schema.
func RequiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return append([]string(nil), req...)
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
