// Package dependency orders hook definitions into execution levels.
package dependency

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

// Graph owns hook definitions and their dependency edges.
//
// Forward edges point from a hook to the hooks it depends on; reverse edges
// point from a hook to its dependents. A hook is never inserted when doing
// so would close a cycle, so planning can assume acyclic forward edges for
// everything that made it in.
type Graph struct {
	mu         sync.RWMutex
	hooks      map[string]hooks.Definition
	deps       map[string][]string
	dependents map[string]map[string]struct{}
	seq        map[string]uint64
	nextSeq    uint64
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		hooks:      make(map[string]hooks.Definition),
		deps:       make(map[string][]string),
		dependents: make(map[string]map[string]struct{}),
		seq:        make(map[string]uint64),
	}
}

// AddHook validates and inserts a definition, assigning an id if it has none.
// Insertion is all-or-nothing: on error the graph is unchanged.
func (g *Graph) AddHook(def hooks.Definition) (string, error) {
	def = def.Clone()
	id := def.EnsureID()

	if err := def.Validate(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.hooks[id]; exists {
		return "", &hooks.ConfigurationError{HookID: id, Reason: "hook already registered", Err: hooks.ErrDuplicateHook}
	}

	for _, dep := range def.DependsOn {
		if g.hasPathLocked(dep, id) {
			return "", &hooks.ConfigurationError{
				HookID: id,
				Reason: fmt.Sprintf("dependency on %q would create a circular dependency", dep),
				Err:    hooks.ErrCircularDependency,
			}
		}
	}

	g.hooks[id] = def
	g.deps[id] = def.DependsOn
	for _, dep := range def.DependsOn {
		set, ok := g.dependents[dep]
		if !ok {
			set = make(map[string]struct{})
			g.dependents[dep] = set
		}
		set[id] = struct{}{}
	}
	g.seq[id] = g.nextSeq
	g.nextSeq++

	return id, nil
}

// RemoveHook deletes a hook and its forward edges. Hooks that depended on it
// keep their declarations and will fail ValidateDependencies until it is
// added back.
func (g *Graph) RemoveHook(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.hooks[id]; !ok {
		return fmt.Errorf("%w: %s", hooks.ErrHookNotFound, id)
	}
	for _, dep := range g.deps[id] {
		if set, ok := g.dependents[dep]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(g.dependents, dep)
			}
		}
	}
	delete(g.hooks, id)
	delete(g.deps, id)
	delete(g.seq, id)
	return nil
}

// Hook returns the stored definition for id.
func (g *Graph) Hook(id string) (hooks.Definition, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	def, ok := g.hooks[id]
	if !ok {
		return hooks.Definition{}, false
	}
	return def.Clone(), true
}

// Hooks returns every definition in insertion order.
func (g *Graph) Hooks() []hooks.Definition {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.sortedIDsLocked(nil)
	out := make([]hooks.Definition, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.hooks[id].Clone())
	}
	return out
}

// Dependents returns the ids of hooks that declared a dependency on id.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.dependents[id]))
	for dep := range g.dependents[id] {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of hooks.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.hooks)
}

// ValidateDependencies reports every declared dependency that does not
// name a registered hook. Call it after bulk loading, since dependencies may
// be declared before their target is inserted.
func (g *Graph) ValidateDependencies() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error
	for _, id := range g.sortedIDsLocked(nil) {
		for _, dep := range g.deps[id] {
			if _, ok := g.hooks[dep]; !ok {
				errs = append(errs, &hooks.ConfigurationError{
					HookID: id,
					Reason: fmt.Sprintf("depends on unknown hook %q", dep),
					Err:    hooks.ErrMissingDependency,
				})
			}
		}
	}
	return errors.Join(errs...)
}

// CrossEventDependencies lists edges whose target is registered for a
// different event than the dependent. Planning treats such edges as already
// satisfied.
func (g *Graph) CrossEventDependencies() map[string][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string][]string)
	for id, deps := range g.deps {
		event := g.hooks[id].Event
		for _, dep := range deps {
			if target, ok := g.hooks[dep]; ok && target.Event != event {
				out[id] = append(out[id], dep)
			}
		}
	}
	return out
}

// hasPathLocked reports whether end is reachable from start over forward
// edges. start == end counts as a path.
func (g *Graph) hasPathLocked(start, end string) bool {
	if start == end {
		return true
	}
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.deps[current] {
			if next == end {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// sortedIDsLocked returns ids ordered by insertion. A nil filter selects all.
func (g *Graph) sortedIDsLocked(keep func(hooks.Definition) bool) []string {
	ids := make([]string, 0, len(g.hooks))
	for id, def := range g.hooks {
		if keep == nil || keep(def) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return g.seq[ids[i]] < g.seq[ids[j]] })
	return ids
}
