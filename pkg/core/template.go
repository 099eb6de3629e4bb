package core

import (
	"regexp"
	"time"
)

// CurrentDateInput is the builtin placeholder filled from the run clock.
const CurrentDateInput = "current_date"

var placeholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Placeholders returns the distinct {name} placeholders of tpl in order of
// first appearance.
func Placeholders(tpl string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholderRE.FindAllStringSubmatch(tpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Expand substitutes {name} placeholders with values from inputs.
// Placeholders without a value are left untouched.
func Expand(tpl string, inputs map[string]string) string {
	if len(inputs) == 0 {
		return tpl
	}
	return placeholderRE.ReplaceAllStringFunc(tpl, func(m string) string {
		if v, ok := inputs[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// WithCurrentDate returns a copy of inputs with current_date set from now
// unless the caller supplied it.
func WithCurrentDate(inputs map[string]string, now time.Time) map[string]string {
	out := make(map[string]string, len(inputs)+1)
	for k, v := range inputs {
		out[k] = v
	}
	if _, ok := out[CurrentDateInput]; !ok {
		out[CurrentDateInput] = now.Format("2006-01-02")
	}
	return out
}
