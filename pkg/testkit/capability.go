package testkit

import (
	"context"
	"sync/atomic"

	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/tool"
)

// Capability is a stub tool.Capability returning a fixed result or error.
type Capability struct {
	name        string
	description string
	tags        []string
	result      any
	err         error
	calls       atomic.Int64
}

// NewStaticCapability returns result on every call.
func NewStaticCapability(name string, result any, tags ...string) *Capability {
	return &Capability{name: name, description: "stub " + name, result: result, tags: tags}
}

// NewFailingCapability fails every call with err.
func NewFailingCapability(name string, err error, tags ...string) *Capability {
	return &Capability{name: name, description: "stub " + name, err: err, tags: tags}
}

// Unavailable is an UPSTREAM_UNAVAILABLE error, the kind tools retry.
func Unavailable(msg string) error {
	return errors.New(errors.CodeUpstreamUnavailable, msg, nil).WithRecoverable(true)
}

func (c *Capability) Name() string        { return c.name }
func (c *Capability) Description() string { return c.description }
func (c *Capability) Tags() []string      { return append([]string(nil), c.tags...) }

func (c *Capability) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Invoke implements tool.Capability.
func (c *Capability) Invoke(ctx context.Context, _ map[string]any) (any, error) {
	c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CodeCanceled, "canceled", err)
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

// Calls returns how many times Invoke ran.
func (c *Capability) Calls() int {
	return int(c.calls.Load())
}

var _ tool.Capability = (*Capability)(nil)
