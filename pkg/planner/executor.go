package planner

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/resilience"
	"github.com/smkhb/Stock-Agent/pkg/telemetry"
)

// Executor schedules the tasks of a graph onto agents.
type Executor struct {
	registry      *agent.Registry
	delegator     Delegator
	concurrency   int
	taskTimeout   time.Duration
	persistMemory bool
	events        core.EventEmitter
	logger        *slog.Logger
	metrics       *telemetry.CrewMetrics
	now           func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDelegator enables hierarchical mode.
func WithDelegator(d Delegator) ExecutorOption {
	return func(e *Executor) { e.delegator = d }
}

// WithConcurrency bounds how many independent tasks run at once.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithTaskTimeout bounds every dispatch of a task.
func WithTaskTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.taskTimeout = d }
}

// WithPersistMemory copies agent iteration logs into the trace.
func WithPersistMemory(persist bool) ExecutorOption {
	return func(e *Executor) { e.persistMemory = persist }
}

// WithEvents sets the event sink.
func WithEvents(emitter core.EventEmitter) ExecutorOption {
	return func(e *Executor) {
		if emitter != nil {
			e.events = emitter
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.CrewMetrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor creates an executor resolving roles against registry.
func NewExecutor(registry *agent.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		concurrency: 1,
		events:      core.NoopEventEmitter{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan validates graph and resolves every task's agent without dispatching
// anything. It returns the tasks in dispatch order.
func (e *Executor) Plan(graph *Graph) ([]Task, map[string]*agent.Agent, error) {
	if e.registry == nil {
		return nil, nil, errors.New(errors.CodeConfig, "agent registry is required", nil)
	}
	if err := graph.Validate(); err != nil {
		return nil, nil, err
	}
	order, err := graph.TopologicalOrder()
	if err != nil {
		return nil, nil, err
	}
	agents := make(map[string]*agent.Agent, len(order))
	for _, t := range order {
		a, err := e.registry.Resolve(t.Agent)
		if err != nil {
			return nil, nil, errors.AsCrewError(err).WithTask(t.ID)
		}
		agents[t.ID] = a
	}
	return order, agents, nil
}

type dispatch struct {
	task          Task
	agent         *agent.Agent
	attempt       int
	delegatedFrom agent.Role
	context       string
}

type result struct {
	dispatch
	outcome   *agent.Outcome
	err       error
	startedAt time.Time
	elapsed   time.Duration
}

// scheduler is the per-run state of one Execute call. Only the goroutine
// running Execute touches it.
type scheduler struct {
	*Executor
	graph    *Graph
	run      *Run
	log      *slog.Logger
	position map[string]int
	pending  map[string]int
	owners   map[string]*agent.Agent
	tried    map[string][]agent.Role
	attempts map[string]int
	ready    []dispatch
}

// Execute runs graph to completion within run and returns the terminal
// task's output.
func (e *Executor) Execute(ctx context.Context, graph *Graph, run *Run) (string, error) {
	if run == nil {
		return "", errors.New(errors.CodeConfig, "run is required", nil)
	}
	order, agents, err := e.Plan(graph)
	if err != nil {
		run.finish(core.RunFailed, e.now())
		return "", err
	}
	terminal, _ := graph.Terminal()

	ctx = core.WithRunID(ctx, run.ID)
	log := e.log().With(slog.String("run_id", run.ID))
	s := &scheduler{
		Executor: e,
		graph:    graph,
		run:      run,
		log:      log,
		position: make(map[string]int, len(order)),
		pending:  make(map[string]int, len(order)),
		owners:   make(map[string]*agent.Agent, len(order)),
		tried:    make(map[string][]agent.Role, len(order)),
		attempts: make(map[string]int, len(order)),
	}
	for i, t := range order {
		s.position[t.ID] = i
		s.pending[t.ID] = len(t.DependsOn)
	}

	run.start(order, e.now())
	log.Info("scheduler.run.start", slog.Int("tasks", len(order)), slog.Int("concurrency", e.concurrency))

	if err := s.releaseReady(ctx, agents); err != nil {
		return "", s.fail(ctx, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	results := make(chan result, len(order))

	var runErr error
	inflight := 0
	for {
		for runErr == nil && inflight < e.concurrency && len(s.ready) > 0 {
			d := s.ready[0]
			s.ready = s.ready[1:]
			if err := s.dispatch(runCtx, &g, results, d); err != nil {
				runErr = err
				cancel()
				break
			}
			inflight++
		}
		if inflight == 0 {
			break
		}
		res := <-results
		inflight--
		if runErr != nil {
			s.discard(ctx, res)
			continue
		}
		if err := s.complete(ctx, res); err != nil {
			runErr = err
			cancel()
		}
		if runErr == nil {
			if err := s.releaseReady(ctx, agents); err != nil {
				runErr = err
				cancel()
			}
		}
	}
	_ = g.Wait()

	if runErr != nil {
		return "", s.fail(ctx, runErr)
	}
	for _, t := range order {
		if st := run.State(t.ID); st != core.TaskSucceeded {
			return "", s.fail(ctx, errors.Newf(errors.CodeInternalInconsistency,
				"task left in state %s after scheduling finished", st).WithTask(t.ID))
		}
	}

	output, _ := run.Output(terminal.ID)
	run.finish(core.RunSucceeded, e.now())
	e.metrics.RecordRun(ctx, string(core.RunSucceeded))
	log.Info("scheduler.run.complete", slog.String("terminal", terminal.ID), slog.Duration("duration", run.Duration()))
	return output, nil
}

func (s *scheduler) fail(ctx context.Context, err error) error {
	s.run.finish(core.RunFailed, s.now())
	s.metrics.RecordRun(ctx, string(core.RunFailed))
	s.metrics.RecordError(ctx, err, "scheduler")
	s.log.Error("scheduler.run.failed",
		slog.String("error_code", string(errors.CodeOf(err))),
		slog.String("error", err.Error()),
	)
	return err
}

func (s *scheduler) markReady(ctx context.Context, t Task, a *agent.Agent) error {
	for _, dep := range t.DependsOn {
		if s.run.State(dep) != core.TaskSucceeded {
			return errors.Newf(errors.CodeInternalInconsistency, "dependency %q not succeeded", dep).WithTask(t.ID)
		}
	}
	if err := s.run.transition(t.ID, core.TaskReady); err != nil {
		return err
	}
	s.emit(ctx, core.EventTaskReady, t.ID, a.Role(), nil)
	s.metrics.RecordTaskTransition(ctx, t.ID, string(core.TaskReady))
	s.enqueue(dispatch{task: t, agent: a, context: s.contextFor(t)})
	return nil
}

// enqueue keeps the ready queue in topological order.
func (s *scheduler) enqueue(d dispatch) {
	i := sort.Search(len(s.ready), func(i int) bool {
		return s.position[s.ready[i].task.ID] > s.position[d.task.ID]
	})
	s.ready = append(s.ready, dispatch{})
	copy(s.ready[i+1:], s.ready[i:])
	s.ready[i] = d
}

// contextFor concatenates dependency outputs in declared order.
func (s *scheduler) contextFor(t Task) string {
	parts := make([]string, 0, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		if out, ok := s.run.Output(dep); ok {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (s *scheduler) dispatch(ctx context.Context, g *errgroup.Group, results chan<- result, d dispatch) error {
	if err := s.run.transition(d.task.ID, core.TaskDispatched); err != nil {
		return err
	}
	s.attempts[d.task.ID]++
	d.attempt = s.attempts[d.task.ID]
	s.tried[d.task.ID] = append(s.tried[d.task.ID], d.agent.Role())

	s.emit(ctx, core.EventTaskDispatched, d.task.ID, d.agent.Role(), map[string]any{"attempt": d.attempt})
	s.metrics.RecordTaskTransition(ctx, d.task.ID, string(core.TaskDispatched))
	s.log.Info("scheduler.task.dispatched",
		slog.String("task_id", d.task.ID),
		slog.String("agent", string(d.agent.Role())),
		slog.Int("attempt", d.attempt),
	)

	asg := agent.Assignment{
		TaskID:         d.task.ID,
		Description:    d.task.Description,
		ExpectedOutput: d.task.ExpectedOutput,
		Context:        d.context,
		Inputs:         s.run.Inputs,
		Budget:         s.run.Budget,
		Events:         s.events,
	}
	g.Go(func() error {
		results <- s.execute(ctx, d, asg)
		return nil
	})
	return nil
}

// execute runs on a worker goroutine.
func (e *Executor) execute(ctx context.Context, d dispatch, asg agent.Assignment) result {
	ctx = core.WithTaskID(ctx, d.task.ID)
	ctx, span := telemetry.Tracer().Start(ctx, "Planner.Task",
		trace.WithAttributes(telemetry.TaskAttributes(d.task.ID, d.task.Description, string(core.TaskDispatched), d.attempt)...))
	defer span.End()

	taskCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.taskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, e.taskTimeout)
	}
	defer cancel()

	start := e.now()
	outcome, err := d.agent.Execute(taskCtx, asg)
	res := result{dispatch: d, outcome: outcome, err: err, startedAt: start, elapsed: e.now().Sub(start)}

	if err != nil && ctx.Err() == nil && stderrors.Is(taskCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, errors.CodeTimeout) {
		res.err = errors.New(errors.CodeTimeout, "task exceeded its deadline", err).
			WithTask(d.task.ID).
			WithContext("timeout", e.taskTimeout.String())
	}
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res
}

// complete applies a finished dispatch to the run.
func (s *scheduler) complete(ctx context.Context, res result) error {
	id := res.task.ID
	s.metrics.RecordTaskDuration(ctx, id, float64(res.elapsed.Microseconds())/1000)

	if res.err == nil {
		if err := s.run.transition(id, core.TaskSucceeded); err != nil {
			return err
		}
		if err := s.run.setOutput(id, res.outcome.Output); err != nil {
			return err
		}
		s.record(res, core.TaskSucceeded)
		s.emit(ctx, core.EventTaskSucceeded, id, res.agent.Role(), map[string]any{"attempt": res.attempt})
		s.metrics.RecordTaskTransition(ctx, id, string(core.TaskSucceeded))
		s.log.Info("scheduler.task.succeeded",
			slog.String("task_id", id),
			slog.String("agent", string(res.agent.Role())),
			slog.Duration("duration", res.elapsed),
		)
		for _, dep := range s.graph.Dependents(id) {
			s.pending[dep]--
		}
		return nil
	}

	s.log.Warn("scheduler.task.failed",
		slog.String("task_id", id),
		slog.String("agent", string(res.agent.Role())),
		slog.String("error_code", string(errors.CodeOf(res.err))),
		slog.String("error", res.err.Error()),
	)

	if ctx.Err() != nil {
		return s.markFailed(ctx, res, resilience.ContextError(ctx, "run"), false)
	}
	owner := s.owners[id]
	if s.delegator == nil || owner == nil || !owner.AllowDelegation() {
		return s.markFailed(ctx, res, taskFailed(id, res.err), false)
	}

	if err := s.run.transition(id, core.TaskDelegated); err != nil {
		return err
	}
	s.record(res, core.TaskDelegated)
	candidate, rec, err := s.delegator.Delegate(ctx, s.run, res.task, append([]agent.Role(nil), s.tried[id]...), res.err)
	if err != nil {
		return s.markFailed(ctx, res, errors.AsCrewError(err).WithTask(id), true)
	}
	rec.RunID = s.run.ID
	rec.TaskID = id
	if rec.From == "" {
		rec.From = res.agent.Role()
	}
	s.run.addDelegation(rec)
	s.metrics.RecordDelegation(ctx, string(rec.From), rec.Accepted)
	s.emit(ctx, core.EventTaskDelegated, id, res.agent.Role(), map[string]any{
		"candidate": string(rec.Candidate),
		"accepted":  rec.Accepted,
		"reason":    rec.Reason,
	})
	s.log.Info("scheduler.task.delegated",
		slog.String("task_id", id),
		slog.String("from", string(rec.From)),
		slog.String("candidate", string(rec.Candidate)),
		slog.Bool("accepted", rec.Accepted),
	)
	if candidate == nil || !rec.Accepted {
		return s.markFailed(ctx, res, taskFailed(id, res.err).WithContext("delegation", rec.Reason), true)
	}
	s.ready = append([]dispatch{{
		task:          res.task,
		agent:         candidate,
		delegatedFrom: res.agent.Role(),
		context:       res.context,
	}}, s.ready...)
	return nil
}

func (s *scheduler) markFailed(ctx context.Context, res result, err error, traced bool) error {
	if terr := s.run.transition(res.task.ID, core.TaskFailed); terr != nil {
		return terr
	}
	if !traced {
		s.record(res, core.TaskFailed)
	}
	s.emit(ctx, core.EventTaskFailed, res.task.ID, res.agent.Role(), map[string]any{
		"error_code": string(errors.CodeOf(err)),
	})
	s.metrics.RecordTaskTransition(ctx, res.task.ID, string(core.TaskFailed))
	return err
}

// discard records a dispatch that finished after the run already failed.
func (s *scheduler) discard(ctx context.Context, res result) {
	if res.err == nil {
		res.err = errors.New(errors.CodeCanceled, "run failed before the task result was applied", nil)
	}
	_ = s.run.transition(res.task.ID, core.TaskFailed)
	s.record(res, core.TaskFailed)
	s.metrics.RecordTaskTransition(ctx, res.task.ID, string(core.TaskFailed))
}

// releaseReady moves every pending task whose dependencies all succeeded to
// ready, letting the delegator override the declared agent first.
func (s *scheduler) releaseReady(ctx context.Context, agents map[string]*agent.Agent) error {
	for _, t := range s.graph.Tasks {
		if s.pending[t.ID] != 0 || s.run.State(t.ID) != core.TaskPending {
			continue
		}
		a := agents[t.ID]
		if s.delegator != nil {
			assigned, err := s.delegator.Assign(ctx, s.run, t, a)
			if err != nil {
				return errors.AsCrewError(err).WithTask(t.ID)
			}
			a = assigned
		}
		s.owners[t.ID] = a
		if err := s.markReady(ctx, t, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *scheduler) record(res result, status core.TaskState) {
	entry := TraceEntry{
		RunID:         s.run.ID,
		TaskID:        res.task.ID,
		Agent:         res.agent.Role(),
		Status:        status,
		Attempt:       res.attempt,
		DelegatedFrom: res.delegatedFrom,
		StartedAt:     res.startedAt,
		FinishedAt:    res.startedAt.Add(res.elapsed),
		Duration:      res.elapsed,
	}
	if res.outcome != nil {
		entry.Iterations = res.outcome.Iterations
		entry.ToolAttempts = res.outcome.ToolAttempts
		if s.persistMemory {
			entry.Memory = res.outcome.Memory
		}
		if res.err == nil {
			entry.OutputDigest = Digest(res.outcome.Output)
		}
	}
	if res.err != nil {
		entry.ErrorCode = string(errors.CodeOf(res.err))
		entry.Error = res.err.Error()
	}
	s.run.addTrace(entry)
}

func (s *scheduler) emit(ctx context.Context, t core.EventType, taskID string, role agent.Role, payload map[string]any) {
	s.events.Emit(ctx, core.NewEvent(t, s.run.ID, taskID, string(role), payload))
}

func (e *Executor) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

func taskFailed(taskID string, cause error) *errors.CrewError {
	return errors.New(errors.CodeTaskFailed, "task failed", cause).WithTask(taskID)
}
