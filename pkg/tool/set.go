package tool

import (
	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/llm"
)

// Set is an ordered, immutable collection of capabilities with unique names.
// Capabilities are held by reference and may be shared between sets.
type Set struct {
	items  []Capability
	byName map[string]Capability
}

// NewSet builds a set, rejecting duplicate or nil capabilities.
func NewSet(caps ...Capability) (*Set, error) {
	s := &Set{byName: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		if c == nil {
			return nil, errors.New(errors.CodeConfig, "nil capability in set", nil)
		}
		if _, dup := s.byName[c.Name()]; dup {
			return nil, errors.New(errors.CodeConfig, "duplicate capability name", nil).
				WithContext("tool", c.Name())
		}
		s.items = append(s.items, c)
		s.byName[c.Name()] = c
	}
	return s, nil
}

// Get returns the capability with the given name.
func (s *Set) Get(name string) (Capability, bool) {
	if s == nil {
		return nil, false
	}
	c, ok := s.byName[name]
	return c, ok
}

// List returns the capabilities in declaration order.
func (s *Set) List() []Capability {
	if s == nil {
		return nil
	}
	return append([]Capability(nil), s.items...)
}

// Names returns capability names in declaration order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.items))
	for _, c := range s.items {
		names = append(names, c.Name())
	}
	return names
}

// Len returns the number of capabilities.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Definitions returns model-facing function definitions for every capability.
func (s *Set) Definitions() []llm.Tool {
	if s == nil {
		return nil
	}
	defs := make([]llm.Tool, 0, len(s.items))
	for _, c := range s.items {
		defs = append(defs, Definition(c))
	}
	return defs
}
