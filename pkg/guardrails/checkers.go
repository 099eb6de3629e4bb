package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// PromptInjectionDetector matches phrases that try to override the agent
// instructions a value is pasted into.
type PromptInjectionDetector struct {
	patterns []*regexp.Regexp
}

var defaultInjectionPatterns = []string{
	`(?i)(ignore|disregard|forget|override)\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`,
	`(?i)you\s+are\s+now\s+(a|an)\s+`,
	`(?i)pretend\s+(you\s+are|to\s+be)\s+`,
	`(?i)(what\s+(is|are)|show\s+me|reveal|print)\s+your\s+(system\s+)?(prompt|instructions?)`,
	`(?i)(jailbreak|do\s+anything\s+now|bypass\s+(safety|content|filter))`,
	`(?i)(developer|debug|sudo|admin)\s+mode`,
	`(?i)(\[/?INST\]|<</?SYS>>|<\|.*\|>|\]\]\s*system\s*:)`,
}

// NewPromptInjectionDetector compiles the default patterns plus extra.
// Invalid extra patterns are skipped.
func NewPromptInjectionDetector(extra ...string) *PromptInjectionDetector {
	d := &PromptInjectionDetector{}
	for _, p := range append(append([]string(nil), defaultInjectionPatterns...), extra...) {
		if re, err := regexp.Compile(p); err == nil {
			d.patterns = append(d.patterns, re)
		}
	}
	return d
}

// ID implements InputChecker.
func (d *PromptInjectionDetector) ID() string { return "prompt_injection" }

// CheckInput implements InputChecker.
func (d *PromptInjectionDetector) CheckInput(_ context.Context, _, value string) CheckResult {
	for _, re := range d.patterns {
		if m := re.FindString(value); m != "" {
			return CheckResult{Blocked: true, Reason: fmt.Sprintf("possible prompt injection %q", m)}
		}
	}
	return CheckResult{}
}

type maxLength int

// MaxLength blocks inputs longer than n characters.
func MaxLength(n int) InputChecker { return maxLength(n) }

func (m maxLength) ID() string { return "max_length" }

func (m maxLength) CheckInput(_ context.Context, _, value string) CheckResult {
	if n := utf8.RuneCountInString(value); n > int(m) {
		return CheckResult{Blocked: true, Reason: fmt.Sprintf("%d characters exceed the limit of %d", n, int(m))}
	}
	return CheckResult{}
}

// tickerPattern accepts exchange symbols such as AAPL, BRK.B, BTC-USD or ^GSPC.
var tickerPattern = regexp.MustCompile(`^\^?[A-Za-z0-9]{1,10}([.\-=][A-Za-z0-9]{1,6})?$`)

type ticker struct {
	inputs map[string]bool
}

// Ticker validates the named inputs as stock symbols. Other inputs pass.
func Ticker(names ...string) InputChecker {
	t := ticker{inputs: make(map[string]bool, len(names))}
	for _, n := range names {
		t.inputs[n] = true
	}
	return t
}

func (t ticker) ID() string { return "ticker" }

func (t ticker) CheckInput(_ context.Context, name, value string) CheckResult {
	if !t.inputs[name] {
		return CheckResult{}
	}
	if !tickerPattern.MatchString(strings.TrimSpace(value)) {
		return CheckResult{Blocked: true, Reason: fmt.Sprintf("%q is not a ticker symbol", value)}
	}
	return CheckResult{}
}
