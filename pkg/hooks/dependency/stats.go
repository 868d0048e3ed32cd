package dependency

// Stats summarizes the graph shape.
type Stats struct {
	TotalHooks            int `json:"total_hooks"`
	HooksWithDependencies int `json:"hooks_with_dependencies"`
	MaxDepth              int `json:"max_dependency_depth"`
}

// Stats returns hook counts and the longest dependency chain.
//
// Depth is best-effort: nodes revisited on the current path contribute 0
// instead of failing, so a residual cycle never hangs the call. Finished
// nodes are memoised for the duration of one call.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Stats{TotalHooks: len(g.hooks)}
	memo := make(map[string]int, len(g.hooks))
	for id := range g.hooks {
		if len(g.deps[id]) > 0 {
			stats.HooksWithDependencies++
		}
		if d := g.depthLocked(id, memo); d > stats.MaxDepth {
			stats.MaxDepth = d
		}
	}
	return stats
}

// depthLocked walks forward edges from root with an explicit stack. A hook
// with no dependencies has depth 0; otherwise its depth is one more than the
// deepest dependency. Depths already in memo are reused without descending.
func (g *Graph) depthLocked(root string, memo map[string]int) int {
	type frame struct {
		id   string
		next int
		best int
	}

	if d, ok := memo[root]; ok {
		return d
	}

	onPath := map[string]bool{root: true}
	stack := []*frame{{id: root}}
	result := 0

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		deps := g.deps[top.id]

		if top.next < len(deps) {
			dep := deps[top.next]
			top.next++
			if onPath[dep] {
				continue
			}
			if d, ok := memo[dep]; ok {
				if d > top.best {
					top.best = d
				}
				continue
			}
			onPath[dep] = true
			stack = append(stack, &frame{id: dep})
			continue
		}

		depth := 0
		if len(deps) > 0 {
			depth = top.best + 1
		}
		stack = stack[:len(stack)-1]
		delete(onPath, top.id)
		memo[top.id] = depth

		if len(stack) == 0 {
			result = depth
			break
		}
		parent := stack[len(stack)-1]
		if depth > parent.best {
			parent.best = depth
		}
	}
	return result
}
