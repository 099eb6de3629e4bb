package agent

import (
	"sync"

	"github.com/smkhb/Stock-Agent/pkg/errors"
)

// Registry maps roles to agents. It is populated at configuration time and
// frozen before execution.
type Registry struct {
	mu     sync.RWMutex
	agents map[Role]*Agent
	order  []Role
	frozen bool
}

// NewRegistry creates an empty registry, optionally registering agents.
func NewRegistry(agents ...*Agent) (*Registry, error) {
	r := &Registry{agents: make(map[Role]*Agent)}
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a to the registry.
func (r *Registry) Register(a *Agent) error {
	if a == nil {
		return errors.New(errors.CodeConfig, "agent is nil", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errors.New(errors.CodeConfig, "registry is frozen", nil).
			WithContext("role", string(a.role))
	}
	if _, ok := r.agents[a.role]; ok {
		return errors.New(errors.CodeDuplicateRole, "agent role already registered", nil).
			WithContext("role", string(a.role))
	}
	r.agents[a.role] = a
	r.order = append(r.order, a.role)
	return nil
}

// Resolve returns the agent registered for role.
func (r *Registry) Resolve(role Role) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[role]
	if !ok {
		return nil, errors.New(errors.CodeUnknownRole, "agent role not registered", nil).
			WithContext("role", string(role))
	}
	return a, nil
}

// Agents returns the registered agents in registration order.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.order))
	for _, role := range r.order {
		out = append(out, r.agents[role])
	}
	return out
}

// Roles returns the registered roles in registration order.
func (r *Registry) Roles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Role(nil), r.order...)
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Freeze rejects any further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
