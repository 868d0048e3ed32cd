package dependency

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

// Level is a set of hooks that may start together. A parallel level holds
// the whole parallel group of one planning round; a sequential level holds
// exactly one hook.
type Level struct {
	Parallel bool               `json:"parallel" yaml:"parallel"`
	Hooks    []hooks.Definition `json:"hooks" yaml:"hooks"`
}

// IDs returns the hook ids of the level in order.
func (l Level) IDs() []string {
	ids := make([]string, len(l.Hooks))
	for i, def := range l.Hooks {
		ids[i] = def.ID
	}
	return ids
}

// Plan is the ordered list of levels for one event type.
type Plan struct {
	Event  hooks.EventType `json:"event" yaml:"event"`
	Levels []Level         `json:"levels" yaml:"levels"`
}

// Empty reports whether the plan has nothing to run.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Levels) == 0
}

// HookCount returns the number of hooks across all levels.
func (p *Plan) HookCount() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, level := range p.Levels {
		n += len(level.Hooks)
	}
	return n
}

// IDs returns the hook ids level by level.
func (p *Plan) IDs() [][]string {
	if p == nil {
		return nil
	}
	out := make([][]string, len(p.Levels))
	for i, level := range p.Levels {
		out[i] = level.IDs()
	}
	return out
}

// Plan computes the execution levels for an event type using Kahn's
// algorithm restricted to hooks registered for that event. Dependencies on
// hooks outside the set are treated as satisfied. Hooks that become ready in
// the same round are ordered by priority, then by insertion order.
func (g *Graph) Plan(event hooks.EventType) (*Plan, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	plan := &Plan{Event: event}

	members := g.sortedIDsLocked(func(def hooks.Definition) bool { return def.Event == event })
	if len(members) == 0 {
		return plan, nil
	}

	inSet := make(map[string]bool, len(members))
	for _, id := range members {
		inSet[id] = true
	}

	inDegree := make(map[string]int, len(members))
	dependents := make(map[string][]string, len(members))
	for _, id := range members {
		for _, dep := range g.deps[id] {
			if !inSet[dep] {
				continue
			}
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	remaining := members
	for len(remaining) > 0 {
		var ready, blocked []string
		for _, id := range remaining {
			if inDegree[id] == 0 {
				ready = append(ready, id)
			} else {
				blocked = append(blocked, id)
			}
		}
		if len(ready) == 0 {
			return nil, &hooks.ConfigurationError{
				Reason: fmt.Sprintf("circular dependency among %d hooks for event %s", len(blocked), event),
				Err:    hooks.ErrCircularDependency,
			}
		}

		var parallel, sequential []hooks.Definition
		for _, id := range ready {
			def := g.hooks[id]
			if def.Parallel {
				parallel = append(parallel, def.Clone())
			} else {
				sequential = append(sequential, def.Clone())
			}
		}
		g.sortByPriorityLocked(parallel)
		g.sortByPriorityLocked(sequential)

		if len(parallel) > 0 {
			plan.Levels = append(plan.Levels, Level{Parallel: true, Hooks: parallel})
		}
		for _, def := range sequential {
			plan.Levels = append(plan.Levels, Level{Hooks: []hooks.Definition{def}})
		}

		for _, id := range ready {
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
			}
		}
		remaining = blocked
	}

	return plan, nil
}

func (g *Graph) sortByPriorityLocked(defs []hooks.Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Priority != defs[j].Priority {
			return defs[i].Priority < defs[j].Priority
		}
		return g.seq[defs[i].ID] < g.seq[defs[j].ID]
	})
}
