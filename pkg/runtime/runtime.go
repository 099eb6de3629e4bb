// Package runtime coordinates crew runs: it checks run inputs, creates the
// run, drives the scheduler and persists the trace.
package runtime

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/planner"
	"github.com/smkhb/Stock-Agent/pkg/telemetry"
)

// Coordinator runs one graph against one registry. It is safe for
// concurrent Kickoff calls; every call gets its own Run.
type Coordinator struct {
	registry         *agent.Registry
	graph            *planner.Graph
	executor         *planner.Executor
	traces           planner.TraceStore
	guard            InputGuard
	required         []string
	maxRunIterations int
	logger           *slog.Logger
	now              func() time.Time

	execOpts []planner.ExecutorOption
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// InputGuard screens run inputs before a run is created.
type InputGuard interface {
	CheckInputs(ctx context.Context, inputs map[string]string) error
}

// WithInputGuard rejects runs whose inputs fail g.
func WithInputGuard(g InputGuard) Option {
	return func(c *Coordinator) { c.guard = g }
}

// WithDelegator runs the graph in hierarchical mode.
func WithDelegator(d planner.Delegator) Option {
	return func(c *Coordinator) {
		if d != nil {
			c.execOpts = append(c.execOpts, planner.WithDelegator(d))
		}
	}
}

// WithTraceStore persists the trace of every run.
func WithTraceStore(s planner.TraceStore) Option {
	return func(c *Coordinator) { c.traces = s }
}

// WithConcurrency bounds how many independent tasks run at once.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) { c.execOpts = append(c.execOpts, planner.WithConcurrency(n)) }
}

// WithTaskTimeout bounds every task dispatch.
func WithTaskTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.execOpts = append(c.execOpts, planner.WithTaskTimeout(d)) }
}

// WithPersistMemory keeps agent iteration logs in the trace.
func WithPersistMemory(persist bool) Option {
	return func(c *Coordinator) { c.execOpts = append(c.execOpts, planner.WithPersistMemory(persist)) }
}

// WithEvents sets the event sink passed to the scheduler and agents.
func WithEvents(emitter core.EventEmitter) Option {
	return func(c *Coordinator) { c.execOpts = append(c.execOpts, planner.WithEvents(emitter)) }
}

// WithMaxRunIterations caps the iterations of all agents in one run.
func WithMaxRunIterations(n int) Option {
	return func(c *Coordinator) { c.maxRunIterations = n }
}

// WithRequiredInputs adds inputs that must be present beyond the graph's own.
func WithRequiredInputs(names ...string) Option {
	return func(c *Coordinator) { c.required = append(c.required, names...) }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
		c.execOpts = append(c.execOpts, planner.WithLogger(logger))
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.CrewMetrics) Option {
	return func(c *Coordinator) { c.execOpts = append(c.execOpts, planner.WithMetrics(m)) }
}

// WithClock replaces time.Now, including the {current_date} builtin.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
			c.execOpts = append(c.execOpts, planner.WithClock(now))
		}
	}
}

// New validates graph against registry and freezes the registry. Any
// configuration error is reported here, before a run can start.
func New(registry *agent.Registry, graph *planner.Graph, opts ...Option) (*Coordinator, error) {
	if registry == nil {
		return nil, errors.New(errors.CodeConfig, "agent registry is required", nil)
	}
	if graph == nil {
		return nil, errors.New(errors.CodeConfig, "task graph is required", nil)
	}
	c := &Coordinator{
		registry: registry,
		graph:    graph,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRunIterations < 0 {
		return nil, errors.Newf(errors.CodeConfig, "max run iterations must not be negative, got %d", c.maxRunIterations)
	}
	registry.Freeze()
	c.executor = planner.NewExecutor(registry, c.execOpts...)
	if _, _, err := c.executor.Plan(graph); err != nil {
		return nil, err
	}
	return c, nil
}

// Graph returns the coordinated graph.
func (c *Coordinator) Graph() *planner.Graph { return c.graph }

// Registry returns the frozen agent registry.
func (c *Coordinator) Registry() *agent.Registry { return c.registry }

// RequiredInputs returns every input a run must provide, sorted.
func (c *Coordinator) RequiredInputs() []string {
	set := make(map[string]bool)
	for _, name := range c.graph.RequiredInputs() {
		set[name] = true
	}
	for _, name := range c.required {
		set[name] = true
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Kickoff executes the graph once with inputs. The run id is taken from ctx
// when present. The result is non-nil whenever a run was created, including
// failed runs.
func (c *Coordinator) Kickoff(ctx context.Context, inputs map[string]string) (*RunResult, error) {
	var missing []string
	for _, name := range c.RequiredInputs() {
		if strings.TrimSpace(inputs[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Newf(errors.CodeMissingInput, "missing required inputs: %s", strings.Join(missing, ", ")).
			WithContext("inputs", missing)
	}
	if c.guard != nil {
		if err := c.guard.CheckInputs(ctx, inputs); err != nil {
			return nil, err
		}
	}

	ctx, runID := core.EnsureRunID(ctx)
	run := planner.NewRun(runID, core.WithCurrentDate(inputs, c.now()), c.maxRunIterations)

	ctx, span := telemetry.Tracer().Start(ctx, "Runtime.Kickoff", trace.WithAttributes(
		telemetry.RunAttributes(runID, c.graph.ID, c.graph.Len())...,
	))
	defer span.End()
	traceID, spanID := traceIDs(span)
	log := c.log().With(
		slog.String("run_id", runID),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
	log.Info("runtime.run.start", slog.String("graph", c.graph.ID))

	out, err := c.executor.Execute(ctx, c.graph, run)
	c.persist(ctx, run, log)

	result := newRunResult(run, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("runtime.run.error",
			slog.String("error_code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	log.Info("runtime.run.complete", slog.Duration("duration", result.Duration))
	return result, nil
}

// persist writes the run trace. Store failures are logged and do not change
// the run outcome.
func (c *Coordinator) persist(ctx context.Context, run *planner.Run, log *slog.Logger) {
	if c.traces == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, entry := range run.Trace() {
		if err := c.traces.Record(ctx, entry); err != nil {
			log.Warn("runtime.trace.persist_failed",
				slog.String("task_id", entry.TaskID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

func (c *Coordinator) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	return sc.TraceID().String(), sc.SpanID().String()
}
