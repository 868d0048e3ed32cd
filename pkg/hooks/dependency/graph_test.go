package dependency

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

func def(id string, deps ...string) hooks.Definition {
	return hooks.Definition{
		ID:        id,
		Event:     hooks.EventSessionStart,
		Type:      "script",
		Priority:  hooks.PriorityNormal,
		DependsOn: deps,
	}
}

func parallel(d hooks.Definition) hooks.Definition {
	d.Parallel = true
	return d
}

func withPriority(d hooks.Definition, p hooks.Priority) hooks.Definition {
	d.Priority = p
	return d
}

func mustAdd(t *testing.T, g *Graph, defs ...hooks.Definition) {
	t.Helper()
	for _, d := range defs {
		_, err := g.AddHook(d)
		require.NoError(t, err, "adding %s", d.ID)
	}
}

func TestAddHookAssignsID(t *testing.T) {
	g := New()
	id, err := g.AddHook(hooks.Definition{Event: hooks.EventTaskStart, Type: "script"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	stored, ok := g.Hook(id)
	require.True(t, ok)
	assert.Equal(t, id, stored.ID)
}

func TestAddHookRejectsDuplicates(t *testing.T) {
	g := New()
	mustAdd(t, g, def("a"))
	_, err := g.AddHook(def("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, hooks.ErrDuplicateHook)
}

func TestAddHookRejectsInvalidDefinition(t *testing.T) {
	g := New()
	_, err := g.AddHook(hooks.Definition{ID: "a", Event: hooks.EventTaskStart})
	require.Error(t, err)
	assert.True(t, hooks.IsConfigurationError(err))
	assert.Equal(t, 0, g.Len())
}

func TestCycleRejectedAndGraphUnchanged(t *testing.T) {
	g := New()
	mustAdd(t, g, def("x", "y"))

	_, err := g.AddHook(def("y", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, hooks.ErrCircularDependency)
	assert.Contains(t, err.Error(), "would create a circular dependency")

	_, ok := g.Hook("y")
	assert.False(t, ok)
	assert.Equal(t, 1, g.Len())
	assert.Empty(t, g.Dependents("x"))
	assert.Equal(t, []string{"x"}, g.Dependents("y"))
}

func TestLongerCycleRejected(t *testing.T) {
	g := New()
	mustAdd(t, g, def("a", "c"), def("b", "a"))

	_, err := g.AddHook(def("c", "b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, hooks.ErrCircularDependency)
}

func TestSelfDependencyRejected(t *testing.T) {
	g := New()
	_, err := g.AddHook(def("a", "a"))
	assert.ErrorIs(t, err, hooks.ErrCircularDependency)
}

func TestPlanParallelGroup(t *testing.T) {
	g := New()
	mustAdd(t, g,
		def("A"),
		parallel(def("B", "A")),
		parallel(def("C", "A")),
	)

	plan, err := g.Plan(hooks.EventSessionStart)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"B", "C"}}, plan.IDs())
	assert.False(t, plan.Levels[0].Parallel)
	assert.True(t, plan.Levels[1].Parallel)
	assert.Equal(t, 3, plan.HookCount())
}

func TestPlanSequentialByPriority(t *testing.T) {
	g := New()
	mustAdd(t, g,
		def("A"),
		withPriority(def("C", "A"), hooks.PriorityLow),
		withPriority(def("B", "A"), hooks.PriorityHigh),
	)

	plan, err := g.Plan(hooks.EventSessionStart)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"B"}, {"C"}}, plan.IDs())
}

func TestPlanEqualPriorityKeepsInsertionOrder(t *testing.T) {
	g := New()
	for _, id := range []string{"z", "m", "a", "q"} {
		mustAdd(t, g, def(id))
	}

	plan, err := g.Plan(hooks.EventSessionStart)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"z"}, {"m"}, {"a"}, {"q"}}, plan.IDs())
}

func TestPlanParallelGroupPrecedesSequentialInSameRound(t *testing.T) {
	g := New()
	mustAdd(t, g,
		withPriority(def("seq"), hooks.PriorityCritical),
		parallel(def("p1")),
		parallel(withPriority(def("p2"), hooks.PriorityHigh)),
	)

	plan, err := g.Plan(hooks.EventSessionStart)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"p2", "p1"}, {"seq"}}, plan.IDs())
}

func TestPlanFiltersByEvent(t *testing.T) {
	g := New()
	other := def("other")
	other.Event = hooks.EventTaskStart
	mustAdd(t, g, def("a"), other)

	plan, err := g.Plan(hooks.EventTaskStart)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"other"}}, plan.IDs())

	plan, err = g.Plan(hooks.EventError)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestPlanTreatsCrossEventDependencyAsSatisfied(t *testing.T) {
	g := New()
	setup := def("setup")
	setup.Event = hooks.EventTaskStart
	mustAdd(t, g, setup, def("later", "setup"), def("missing-dep", "ghost"))

	plan, err := g.Plan(hooks.EventSessionStart)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"later"}, {"missing-dep"}}, plan.IDs())

	cross := g.CrossEventDependencies()
	assert.Equal(t, map[string][]string{"later": {"setup"}}, cross)
}

func TestPlanDependenciesAlwaysInEarlierLevels(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 25; round++ {
		g := New()
		n := 12
		for i := 0; i < n; i++ {
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(4) == 0 {
					deps = append(deps, fmt.Sprintf("h%d", j))
				}
			}
			d := def(fmt.Sprintf("h%d", i), deps...)
			d.Parallel = rng.Intn(2) == 0
			d.Priority = hooks.Priority(rng.Intn(3) * 25)
			mustAdd(t, g, d)
		}

		plan, err := g.Plan(hooks.EventSessionStart)
		require.NoError(t, err)
		require.Equal(t, n, plan.HookCount())

		levelOf := make(map[string]int)
		for i, level := range plan.Levels {
			for _, d := range level.Hooks {
				levelOf[d.ID] = i
			}
		}
		for _, level := range plan.Levels {
			for _, d := range level.Hooks {
				for _, dep := range d.DependsOn {
					assert.Less(t, levelOf[dep], levelOf[d.ID], "%s must run after %s", d.ID, dep)
				}
			}
		}
	}
}

func TestValidateDependencies(t *testing.T) {
	g := New()
	mustAdd(t, g, def("b", "a"))

	err := g.ValidateDependencies()
	require.Error(t, err)
	assert.ErrorIs(t, err, hooks.ErrMissingDependency)
	assert.Contains(t, err.Error(), `"a"`)

	mustAdd(t, g, def("a"))
	assert.NoError(t, g.ValidateDependencies())
}

func TestRemoveHook(t *testing.T) {
	g := New()
	mustAdd(t, g, def("a"), def("b", "a"))

	require.NoError(t, g.RemoveHook("a"))
	assert.ErrorIs(t, g.RemoveHook("a"), hooks.ErrHookNotFound)
	assert.Error(t, g.ValidateDependencies())

	require.NoError(t, g.RemoveHook("b"))
	assert.Empty(t, g.Dependents("a"))
	assert.Equal(t, 0, g.Len())
}

func TestHooksInInsertionOrder(t *testing.T) {
	g := New()
	mustAdd(t, g, def("c"), def("a"), def("b"))

	var ids []string
	for _, d := range g.Hooks() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestStats(t *testing.T) {
	g := New()
	assert.Equal(t, Stats{}, g.Stats())

	mustAdd(t, g, def("a"), def("b", "a"), def("c", "b"), def("d", "a"), def("e", "ghost"))

	stats := g.Stats()
	assert.Equal(t, 5, stats.TotalHooks)
	assert.Equal(t, 4, stats.HooksWithDependencies)
	assert.Equal(t, 2, stats.MaxDepth)
}

func TestStatsToleratesResidualCycle(t *testing.T) {
	g := New()
	mustAdd(t, g, def("a"), def("b", "a"))

	// Force a cycle that AddHook would never allow.
	g.deps["a"] = []string{"b"}

	stats := g.Stats()
	assert.Equal(t, 2, stats.TotalHooks)
	assert.Equal(t, 2, stats.MaxDepth)

	_, err := g.Plan(hooks.EventSessionStart)
	assert.True(t, errors.Is(err, hooks.ErrCircularDependency))
}

func TestStatsLadderCompletesQuickly(t *testing.T) {
	g := New()
	mustAdd(t, g, def("l0a"), def("l0b"))
	for i := 1; i < 25; i++ {
		prevA, prevB := fmt.Sprintf("l%da", i-1), fmt.Sprintf("l%db", i-1)
		mustAdd(t, g,
			def(fmt.Sprintf("l%da", i), prevA, prevB),
			def(fmt.Sprintf("l%db", i), prevA, prevB),
		)
	}

	done := make(chan Stats, 1)
	go func() { done <- g.Stats() }()

	select {
	case stats := <-done:
		assert.Equal(t, 50, stats.TotalHooks)
		assert.Equal(t, 48, stats.HooksWithDependencies)
		assert.Equal(t, 24, stats.MaxDepth)
	case <-time.After(2 * time.Second):
		t.Fatal("Stats did not finish on a 25-level ladder")
	}
}
