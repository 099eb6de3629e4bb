// Package tool wraps external data sources into uniform capabilities that
// agents can invoke. A capability declares its name, description and input
// schema, and reports failures with the INVALID_INPUT, UPSTREAM_UNAVAILABLE
// and EMPTY_RESULT codes from pkg/errors.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/smkhb/Stock-Agent/pkg/llm"
)

// Capability is an external action or data source exposed to agents.
// Implementations must be safe for concurrent use and free of irreversible
// side effects, since invocations may be retried.
type Capability interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Tags() []string
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Definition converts a capability into a model-facing function definition.
func Definition(c Capability) llm.Tool {
	return llm.FunctionTool(c.Name(), c.Description(), c.InputSchema())
}

// Render formats a capability result as an observation for the model.
// Strings pass through; everything else is encoded as JSON.
func Render(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(raw)
}
