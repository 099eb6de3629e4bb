package tool

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/smkhb/Stock-Agent/pkg/errors"
)

// Config describes a capability built from a typed function.
type Config struct {
	// Name is the unique identifier shown to the model (required).
	Name string

	// Description explains what the capability does (required).
	Description string

	// Tags are matched by the delegation manager against task text.
	Tags []string
}

// Func is the typed body of a function capability.
type Func[Args any] func(ctx context.Context, args Args) (any, error)

type functionCapability[Args any] struct {
	config   Config
	fn       Func[Args]
	validate func(Args) error
	schema   map[string]any
	required []string
}

// New creates a Capability from a typed function. The input schema is
// reflected from Args using json and jsonschema struct tags.
func New[Args any](cfg Config, fn Func[Args]) (Capability, error) {
	return NewWithValidation(cfg, fn, nil)
}

// NewWithValidation is New with an extra argument check run after decoding.
// A validation failure is reported as INVALID_INPUT.
func NewWithValidation[Args any](cfg Config, fn Func[Args], validate func(Args) error) (Capability, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New(errors.CodeConfig, "capability name is required", nil)
	}
	if strings.TrimSpace(cfg.Description) == "" {
		return nil, errors.New(errors.CodeConfig, "capability description is required", nil).
			WithContext("tool", cfg.Name)
	}
	if fn == nil {
		return nil, errors.New(errors.CodeConfig, "capability function is required", nil).
			WithContext("tool", cfg.Name)
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "generate input schema", err).
			WithContext("tool", cfg.Name)
	}

	cfg.Tags = append([]string(nil), cfg.Tags...)
	return &functionCapability[Args]{
		config:   cfg,
		fn:       fn,
		validate: validate,
		schema:   schema,
		required: RequiredFields(schema),
	}, nil
}

func (c *functionCapability[Args]) Name() string        { return c.config.Name }
func (c *functionCapability[Args]) Description() string { return c.config.Description }
func (c *functionCapability[Args]) Tags() []string      { return append([]string(nil), c.config.Tags...) }

func (c *functionCapability[Args]) InputSchema() map[string]any {
	return c.schema
}

// Invoke validates and decodes args, calls the function and classifies the outcome.
func (c *functionCapability[Args]) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	for _, key := range c.required {
		v, ok := args[key]
		if !ok || v == nil || (isString(v) && strings.TrimSpace(v.(string)) == "") {
			return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("missing required field %q", key), nil).
				WithContext("tool", c.config.Name).
				WithContext("field", key)
		}
	}

	var typed Args
	if err := decodeArgs(args, &typed); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "arguments do not match schema", err).
			WithContext("tool", c.config.Name)
	}
	if c.validate != nil {
		if err := c.validate(typed); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, err.Error(), err).
				WithContext("tool", c.config.Name)
		}
	}

	out, err := c.fn(ctx, typed)
	if err != nil {
		return nil, classify(ctx, c.config.Name, err)
	}
	if isEmpty(out) {
		return nil, errors.New(errors.CodeEmptyResult, "capability returned no data", nil).
			WithContext("tool", c.config.Name)
	}
	return out, nil
}

func decodeArgs(args map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(args)
}

// classify maps a raw function error onto the tool error taxonomy.
// Typed errors keep their code; context expiry becomes TIMEOUT or CANCELED;
// anything else is treated as the upstream being unavailable.
func classify(ctx context.Context, name string, err error) error {
	if errors.CodeOf(err) != "" {
		return err
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.New(errors.CodeTimeout, "capability call timed out", err).
			WithContext("tool", name).
			WithRecoverable(true)
	case stderrors.Is(err, context.Canceled) && ctx.Err() != nil:
		return errors.New(errors.CodeCanceled, "capability call canceled", err).
			WithContext("tool", name)
	default:
		return errors.New(errors.CodeUpstreamUnavailable, "upstream source failed", err).
			WithContext("tool", name).
			WithRecoverable(true)
	}
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
