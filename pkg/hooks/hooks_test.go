package hooks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	tests := []struct {
		in      string
		want    EventType
		wantErr bool
	}{
		{"session_start", EventSessionStart, false},
		{"session.start", EventSessionStart, false},
		{"Exec-Before", EventExecBefore, false},
		{"task_end", EventTaskComplete, false},
		{"error_occurred", EventError, false},
		{"bogus", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEventType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseModeAndPriority(t *testing.T) {
	m, err := ParseMode("fire-and-forget")
	require.NoError(t, err)
	assert.Equal(t, ModeFireAndForget, m)
	assert.False(t, m.Tracked())

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAsync, m)

	_, err = ParseMode("later")
	assert.Error(t, err)

	var decoded Mode
	require.NoError(t, decoded.UnmarshalText([]byte("blocking")))
	assert.Equal(t, ModeBlocking, decoded)

	p, err := ParsePriority("high")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	p, err = ParsePriority("7")
	require.NoError(t, err)
	assert.Equal(t, Priority(7), p)

	_, err = ParsePriority("soon")
	assert.Error(t, err)
}

func TestDefinitionValidate(t *testing.T) {
	valid := Definition{ID: "a", Event: EventTaskStart, Type: "script"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Definition)
		target error
	}{
		{"missing event", func(d *Definition) { d.Event = "" }, ErrInvalidDefinition},
		{"unknown event", func(d *Definition) { d.Event = "nope" }, ErrInvalidDefinition},
		{"missing type", func(d *Definition) { d.Type = " " }, ErrInvalidDefinition},
		{"negative retries", func(d *Definition) { d.MaxRetries = -1 }, ErrInvalidDefinition},
		{"self dependency", func(d *Definition) { d.DependsOn = []string{"a"} }, ErrCircularDependency},
		{"empty dependency", func(d *Definition) { d.DependsOn = []string{""} }, ErrInvalidDefinition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid
			tt.mutate(&def)
			err := def.Validate()
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))
			assert.True(t, errors.Is(err, tt.target))
		})
	}
}

func TestDefinitionCloneIsDeep(t *testing.T) {
	def := Definition{
		ID:          "a",
		DependsOn:   []string{"x", "y", "x"},
		Environment: map[string]string{"K": "V"},
		Settings:    map[string]any{"nested": map[string]any{"k": "v"}, "list": []any{"a"}},
	}
	clone := def.Clone()
	assert.Equal(t, []string{"x", "y"}, clone.DependsOn)

	def.Environment["K"] = "changed"
	def.Settings["nested"].(map[string]any)["k"] = "changed"
	def.Settings["list"].([]any)[0] = "changed"

	assert.Equal(t, "V", clone.Environment["K"])
	assert.Equal(t, "v", clone.Settings["nested"].(map[string]any)["k"])
	assert.Equal(t, "a", clone.Settings["list"].([]any)[0])
}

func TestEnsureID(t *testing.T) {
	def := Definition{}
	id := def.EnsureID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, def.EnsureID())
}

func TestSnapshotFor(t *testing.T) {
	ev := NewEvent(EventSessionStart, map[string]any{"model": "m1"}).WithSession("s1")
	snap := NewSnapshot(ev, "/work", map[string]string{"A": "1", "B": "2"})

	ev.Data["model"] = "mutated"
	assert.Equal(t, "m1", snap.Event.Data["model"])

	ctx := snap.For(Definition{ID: "h", WorkingDir: "/other", Environment: map[string]string{"B": "3"}})
	assert.Equal(t, "/other", ctx.WorkingDir)
	assert.Equal(t, "1", ctx.Environment["A"])
	assert.Equal(t, "3", ctx.Environment["B"])
	assert.Equal(t, "s1", ctx.Event.SessionID)

	ctx = snap.For(Definition{ID: "h2", Settings: map[string]any{"command": "true"}})
	assert.Equal(t, "/work", ctx.WorkingDir)
	v, ok := ctx.Setting("command")
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestRequiredHookErrorNamesHooks(t *testing.T) {
	err := &RequiredHookError{
		Event:   EventTaskStart,
		Failed:  []string{"b", "a"},
		Reasons: map[string]string{"a": "boom"},
	}
	assert.Equal(t, "required hooks failed for event task_start: a (boom), b", err.Error())
}
