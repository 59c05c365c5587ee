package conversation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/af-corp/hass-agent/internal/config"
)

// Registry holds one Agent per config entry. Agents share the context
// builder, sender and metrics; each owns its settings and sessions.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	raw      map[string]config.Settings
	defaults config.AgentDefaults
	deps     Deps
}

func NewRegistry(deps Deps, defaults config.AgentDefaults) *Registry {
	return &Registry{
		agents:   make(map[string]*Agent),
		raw:      make(map[string]config.Settings),
		defaults: defaults,
		deps:     deps,
	}
}

// Setup builds the agent for an entry, replacing and tearing down any
// previous agent for the same entry.
func (r *Registry) Setup(entryID string, settings config.Settings) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setupLocked(entryID, settings)
}

func (r *Registry) setupLocked(entryID string, settings config.Settings) (*Agent, error) {
	deps := r.deps
	deps.EntryID = entryID
	agent, err := NewAgent(settings.WithDefaults(r.defaults), deps)
	if err != nil {
		return nil, fmt.Errorf("setting up entry %s: %w", entryID, err)
	}
	if prev, ok := r.agents[entryID]; ok {
		prev.Teardown()
	}
	r.agents[entryID] = agent
	r.raw[entryID] = settings
	return agent, nil
}

// Teardown removes an entry's agent. It reports whether the entry existed.
func (r *Registry) Teardown(entryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[entryID]
	if !ok {
		return false
	}
	agent.Teardown()
	delete(r.agents, entryID)
	delete(r.raw, entryID)
	r.forget(entryID)
	return true
}

func (r *Registry) Get(entryID string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[entryID]
	return a, ok
}

// IDs returns the configured entry ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// ReloadAll rebuilds every agent against new service-wide defaults. Entries
// whose settings no longer validate keep their previous agent; their errors
// are returned keyed by entry id.
func (r *Registry) ReloadAll(defaults config.AgentDefaults) map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = defaults

	failed := make(map[string]error)
	for id, settings := range r.raw {
		if _, err := r.setupLocked(id, settings); err != nil {
			failed[id] = err
		}
	}
	return failed
}

// CloseAll tears down every agent.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, agent := range r.agents {
		agent.Teardown()
		delete(r.agents, id)
		delete(r.raw, id)
		r.forget(id)
	}
}

// forget drops the metric series of an entry that no longer exists.
func (r *Registry) forget(entryID string) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.ForgetEntry(entryID)
	}
}
