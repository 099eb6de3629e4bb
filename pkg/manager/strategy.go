package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/llm"
	"github.com/smkhb/Stock-Agent/pkg/planner"
)

// Strategy picks the agent that takes over a failed task. A nil agent means
// no candidate qualifies; reason explains the choice either way.
type Strategy interface {
	Choose(ctx context.Context, task planner.Task, candidates []*agent.Agent) (*agent.Agent, string, error)
}

// KeywordStrategy scores candidates by how many words of the task
// description and tags appear in their capabilities and tags. Ties go to the
// earliest registered candidate.
type KeywordStrategy struct {
	// MinScore is the lowest score that qualifies. Zero means 1.
	MinScore int
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "into": true, "about": true, "your": true,
}

// Choose implements Strategy.
func (s KeywordStrategy) Choose(_ context.Context, task planner.Task, candidates []*agent.Agent) (*agent.Agent, string, error) {
	ranked := s.Rank(task, candidates)
	min := s.MinScore
	if min <= 0 {
		min = 1
	}
	if len(ranked) == 0 || ranked[0].Score < min {
		return nil, "no candidate capability matches the task", nil
	}
	best := ranked[0]
	return best.Agent, fmt.Sprintf("capability match score %d (%s)", best.Score, strings.Join(best.Matched, ", ")), nil
}

// Scored is a candidate with its keyword score.
type Scored struct {
	Agent   *agent.Agent
	Score   int
	Matched []string
}

// Rank returns candidates ordered by descending score.
func (s KeywordStrategy) Rank(task planner.Task, candidates []*agent.Agent) []Scored {
	want := keywords(task.Description + " " + strings.Join(task.Tags, " "))
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		have := make(map[string]bool)
		for _, w := range keywords(profile(c)) {
			have[w] = true
		}
		sc := Scored{Agent: c}
		for _, w := range want {
			if have[w] {
				sc.Score++
				sc.Matched = append(sc.Matched, w)
			}
		}
		out = append(out, sc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// profile is the text a candidate is matched against.
func profile(a *agent.Agent) string {
	var b strings.Builder
	for _, c := range a.Capabilities().List() {
		b.WriteString(c.Name() + " " + c.Description() + " " + strings.Join(c.Tags(), " ") + " ")
	}
	b.WriteString(strings.Join(a.Tags(), " "))
	return b.String()
}

// keywords returns the distinct lower-cased words of s, skipping template
// placeholders, stopwords and words shorter than three letters.
func keywords(s string) []string {
	for _, p := range core.Placeholders(s) {
		s = strings.ReplaceAll(s, "{"+p+"}", " ")
	}
	seen := make(map[string]bool)
	var out []string
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		w = strings.ToLower(w)
		if len(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// LLMStrategy asks the manager model to pick a role from the candidates and
// falls back to keyword matching when the answer names none of them.
type LLMStrategy struct {
	Provider llm.Provider
	Model    string
	Fallback Strategy
}

// Choose implements Strategy.
func (s LLMStrategy) Choose(ctx context.Context, task planner.Task, candidates []*agent.Agent) (*agent.Agent, string, error) {
	if len(candidates) == 0 {
		return nil, "no candidates", nil
	}
	fallback := s.Fallback
	if fallback == nil {
		fallback = KeywordStrategy{}
	}
	if s.Provider == nil {
		return fallback.Choose(ctx, task, candidates)
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "The task %q failed and must be reassigned.\nTask: %s\n\nCandidates:\n", task.ID, task.Description)
	for _, c := range candidates {
		prompt.WriteString("- " + c.Describe() + "\n")
	}
	prompt.WriteString("\nReply with the exact role of the best candidate, or NONE if nobody fits.")

	resp, err := s.Provider.Chat(ctx, llm.ChatRequest{
		Model: s.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are the crew manager. You coordinate analysts and delegate work to the most capable one."},
			{Role: llm.RoleUser, Content: prompt.String()},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		a, reason, ferr := fallback.Choose(ctx, task, candidates)
		return a, "manager model unavailable, " + reason, ferr
	}

	answer := strings.TrimSpace(resp.Content)
	if strings.EqualFold(answer, "none") {
		return nil, "manager model found no suitable candidate", nil
	}
	if c := matchRole(answer, candidates); c != nil {
		return c, "selected by manager model", nil
	}
	a, reason, ferr := fallback.Choose(ctx, task, candidates)
	return a, "manager answer not understood, " + reason, ferr
}

// matchRole finds the candidate named by answer, preferring exact matches.
func matchRole(answer string, candidates []*agent.Agent) *agent.Agent {
	answer = strings.Trim(answer, " .\"'`\n")
	for _, c := range candidates {
		if strings.EqualFold(answer, string(c.Role())) {
			return c
		}
	}
	lower := strings.ToLower(answer)
	var found *agent.Agent
	for _, c := range candidates {
		if strings.Contains(lower, strings.ToLower(string(c.Role()))) {
			if found != nil {
				return nil
			}
			found = c
		}
	}
	return found
}
