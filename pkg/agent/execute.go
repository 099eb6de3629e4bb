package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/llm"
	"github.com/smkhb/Stock-Agent/pkg/memory"
	"github.com/smkhb/Stock-Agent/pkg/resilience"
	"github.com/smkhb/Stock-Agent/pkg/telemetry"
	"github.com/smkhb/Stock-Agent/pkg/tool"
)

// Assignment is one dispatch of a task to an agent.
type Assignment struct {
	TaskID         string
	Description    string
	ExpectedOutput string
	// Context is the concatenated output of the task's dependencies.
	Context string
	Inputs  map[string]string
	// Budget is the run-wide iteration allowance. Nil means unlimited.
	Budget *IterationBudget
	Events core.EventEmitter
}

// Outcome is the result of a successful or failed Execute call.
type Outcome struct {
	Output       string
	Iterations   int
	ToolAttempts int
	Usage        llm.Usage
	// Memory holds the iteration log when memory is enabled.
	Memory []memory.Entry
}

// Execute runs the iteration loop for asg. The returned Outcome is non-nil
// even on failure so callers can record the work spent.
func (a *Agent) Execute(ctx context.Context, asg Assignment) (*Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "Agent.Execute",
		trace.WithAttributes(telemetry.AgentAttributes(string(a.role), a.model, a.maxIterations, a.memoryEnabled)...))
	defer span.End()

	runID, _ := core.RunID(ctx)
	log := a.log().With(
		slog.String("run_id", runID),
		slog.String("task_id", asg.TaskID),
		slog.String("role", string(a.role)),
	)
	log.Info("agent.run.start", slog.Int("max_iterations", a.maxIterations), slog.Bool("memory", a.memoryEnabled))

	out, err := a.loop(ctx, asg, log)
	span.SetAttributes(telemetry.UsageAttributes(out.Iterations, out.Usage.PromptTokens, out.Usage.CompletionTokens)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.RecordError(ctx, err, "agent")
		log.Warn("agent.run.failed",
			slog.Int("iterations", out.Iterations),
			slog.String("error_code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return out, err
	}
	span.SetStatus(codes.Ok, "")
	log.Info("agent.run.complete", slog.Int("iterations", out.Iterations), slog.Int("tool_attempts", out.ToolAttempts))
	return out, nil
}

func (a *Agent) loop(ctx context.Context, asg Assignment, log *slog.Logger) (*Outcome, error) {
	out := &Outcome{}
	base := a.baseMessages(asg)
	tools := a.capabilities.Definitions()

	var mem *memory.Log
	if a.memoryEnabled {
		mem = memory.NewLog(a.memoryCapacity)
		defer func() { out.Memory = mem.Entries() }()
	}

	var (
		last    []llm.Message
		lastErr error
	)
	for iter := 1; iter <= a.maxIterations; iter++ {
		if ctx.Err() != nil {
			return out, resilience.ContextError(ctx, "agent:"+string(a.role))
		}
		if !asg.Budget.Take() {
			return out, NewRunBudgetError(a.role, asg.Budget.Limit())
		}
		out.Iterations = iter
		a.metrics.RecordIteration(ctx, string(a.role))
		a.emit(ctx, asg, core.EventAgentIteration, map[string]any{"iteration": iter})
		log.Debug("agent.iteration", slog.Int("iteration", iter))

		resp, err := a.provider.Chat(ctx, llm.ChatRequest{
			Model:       a.model,
			Messages:    compose(base, mem, last),
			Tools:       tools,
			Temperature: a.temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				return out, resilience.ContextError(ctx, "agent:"+string(a.role))
			}
			lastErr = WrapGenerationError(err, a.role, a.model).WithContext("iteration", iter)
			log.Warn("agent.generation.failed", slog.Int("iteration", iter), slog.String("error", err.Error()))
			continue
		}
		addUsage(&out.Usage, resp.Usage)

		if resp.WantsTools() {
			exchange := []llm.Message{{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}}
			for _, call := range resp.ToolCalls {
				observation, attempts, err := a.callTool(ctx, asg, call, log)
				out.ToolAttempts += attempts
				if err != nil {
					return out, err
				}
				exchange = append(exchange, llm.Message{Role: llm.RoleTool, Content: observation, ToolCallID: call.ID})
				if mem != nil {
					mem.Append(memory.Entry{Iteration: iter, Kind: memory.KindObservation, Content: call.Function.Name + ": " + observation})
				}
			}
			last = exchange
			continue
		}

		draft := strings.TrimSpace(resp.Content)
		if err := a.contract(asg.ExpectedOutput, draft); err != nil {
			lastErr = fmt.Errorf("draft rejected at iteration %d: %w", iter, err)
			feedback := "Your answer does not meet the expected criteria: " + err.Error() + ". Revise it."
			if mem != nil {
				mem.Append(memory.Entry{Iteration: iter, Kind: memory.KindDraft, Content: draft})
				mem.Append(memory.Entry{Iteration: iter, Kind: memory.KindFeedback, Content: err.Error()})
			}
			last = []llm.Message{
				{Role: llm.RoleAssistant, Content: resp.Content},
				{Role: llm.RoleUser, Content: feedback},
			}
			continue
		}
		if mem != nil {
			mem.Append(memory.Entry{Iteration: iter, Kind: memory.KindDraft, Content: draft})
		}
		out.Output = draft
		return out, nil
	}
	return out, NewIterationBudgetError(a.role, a.maxIterations, lastErr)
}

// callTool runs one tool call. Failures the model can act on are returned as
// observations; anything else ends the task.
func (a *Agent) callTool(ctx context.Context, asg Assignment, call llm.ToolCall, log *slog.Logger) (string, int, error) {
	name := call.Function.Name
	capability, ok := a.capabilities.Get(name)
	if !ok {
		return fmt.Sprintf("error [%s]: unknown tool %q; available tools: %s",
			errors.CodeInvalidInput, name, strings.Join(a.capabilities.Names(), ", ")), 0, nil
	}
	args, err := call.ParseArguments()
	if err != nil {
		return fmt.Sprintf("error [%s]: %v", errors.CodeInvalidInput, err), 0, nil
	}

	result, attempts, err := a.invoker.Invoke(ctx, capability, args, a.maxIterations)
	a.emit(ctx, asg, core.EventToolAttempt, map[string]any{
		"tool":     name,
		"attempts": attempts,
		"success":  err == nil,
	})
	if err != nil {
		if tool.Observable(err) {
			log.Info("agent.tool.observation", slog.String("tool", name), slog.String("error_code", string(errors.CodeOf(err))))
			return fmt.Sprintf("error [%s]: %s", errors.CodeOf(err), errors.AsCrewError(err).Message), attempts, nil
		}
		return "", attempts, err
	}
	return tool.Render(result), attempts, nil
}

func (a *Agent) baseMessages(asg Assignment) []llm.Message {
	var system strings.Builder
	fmt.Fprintf(&system, "You are %s.", a.role)
	if a.backstory != "" {
		system.WriteString(" " + core.Expand(a.backstory, asg.Inputs))
	}
	if a.goal != "" {
		system.WriteString("\nYour personal goal is: " + core.Expand(a.goal, asg.Inputs))
	}

	var user strings.Builder
	user.WriteString("Current task: " + core.Expand(asg.Description, asg.Inputs))
	if asg.ExpectedOutput != "" {
		user.WriteString("\n\nThis is the expected criteria for your final answer: " + core.Expand(asg.ExpectedOutput, asg.Inputs))
	}
	if asg.Context != "" {
		user.WriteString("\n\nThis is the context you're working with:\n" + asg.Context)
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system.String()},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// compose builds the prompt of one iteration. Without memory only the most
// recent exchange is carried forward.
func compose(base []llm.Message, mem *memory.Log, last []llm.Message) []llm.Message {
	msgs := append([]llm.Message(nil), base...)
	if mem != nil && mem.Len() > 0 {
		msgs = append(msgs, llm.Message{
			Role:    llm.RoleUser,
			Content: "Notes from your previous iterations on this task:\n" + mem.Render(),
		})
	}
	return append(msgs, last...)
}

func (a *Agent) emit(ctx context.Context, asg Assignment, t core.EventType, payload map[string]any) {
	if asg.Events == nil {
		return
	}
	runID, _ := core.RunID(ctx)
	asg.Events.Emit(ctx, core.NewEvent(t, runID, asg.TaskID, string(a.role), payload))
}

func addUsage(total *llm.Usage, u llm.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}
