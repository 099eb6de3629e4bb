package agent

import (
	"fmt"
	"strings"
)

// ContractCheck accepts or rejects a draft against the task's expected
// output. A non-nil error is sent back to the model as refinement feedback.
type ContractCheck func(expected, draft string) error

// NonEmpty accepts any draft with visible content.
func NonEmpty(_ string, draft string) error {
	if strings.TrimSpace(draft) == "" {
		return fmt.Errorf("the answer is empty")
	}
	return nil
}

// MinLength rejects drafts shorter than n characters.
func MinLength(n int) ContractCheck {
	return func(expected, draft string) error {
		if err := NonEmpty(expected, draft); err != nil {
			return err
		}
		if len(strings.TrimSpace(draft)) < n {
			return fmt.Errorf("the answer is too short (%d characters, want at least %d)", len(strings.TrimSpace(draft)), n)
		}
		return nil
	}
}

// ContainsAll rejects drafts missing any of the given phrases, case-insensitively.
func ContainsAll(phrases ...string) ContractCheck {
	return func(expected, draft string) error {
		if err := NonEmpty(expected, draft); err != nil {
			return err
		}
		lower := strings.ToLower(draft)
		var missing []string
		for _, p := range phrases {
			if !strings.Contains(lower, strings.ToLower(p)) {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("the answer must mention: %s", strings.Join(missing, ", "))
		}
		return nil
	}
}
