package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okExecute(_ context.Context, _ map[string]any, _ *Context) (*Result, error) {
	return &Result{Message: "ok"}, nil
}

func defWith(id ID, mutate ...func(*Definition)) Definition {
	def := Definition{
		Metadata: Metadata{
			ID:       id,
			Name:     string(id),
			Category: "test",
			Modes:    map[Mode]bool{ModeAssistant: true, ModeAgent: true, ModeAutonomous: true},
		},
		Handler: Handler{Execute: okExecute},
	}
	for _, m := range mutate {
		m(&def)
	}
	return def
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(defWith("file_read")))

	meta, err := r.Get("file_read")
	require.NoError(t, err)
	assert.Equal(t, ID("file_read"), meta.ID)
	assert.True(t, r.Has("file_read"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryDuplicateID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(defWith("file_read")))

	err := r.Register(defWith("file_read"))
	require.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryInvalidDefinitions(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	err := r.Register(defWith(""))
	assert.ErrorIs(t, err, ErrInvalidCapability)

	err = r.Register(defWith("no_execute", func(d *Definition) {
		d.Handler.Execute = nil
	}))
	assert.ErrorIs(t, err, ErrInvalidCapability)

	err = r.Register(defWith("self_dep", func(d *Definition) {
		d.Metadata.Dependencies = []ID{"self_dep"}
	}))
	assert.ErrorIs(t, err, ErrInvalidCapability)

	err = r.Register(defWith("bad_schema", func(d *Definition) {
		d.Metadata.ParameterSchema = map[string]any{"type": 42}
	}))
	assert.ErrorIs(t, err, ErrInvalidCapability)
}

func TestRegistryGetNotFound(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Create("missing", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryGetReturnsSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(defWith("file_write", func(d *Definition) {
		d.Metadata.Permissions = []string{"fs:write"}
	})))

	meta, err := r.Get("file_write")
	require.NoError(t, err)
	meta.Modes[ModeAssistant] = false
	meta.Permissions[0] = "mutated"

	again, err := r.Get("file_write")
	require.NoError(t, err)
	assert.True(t, again.Modes[ModeAssistant])
	assert.Equal(t, "fs:write", again.Permissions[0])
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(defWith("file_read")))
	require.NoError(t, r.Register(defWith("file_write")))

	r.Unregister("file_read")
	assert.False(t, r.Has("file_read"))
	assert.True(t, r.Has("file_write"))

	// Removing an absent identifier is a no-op.
	r.Unregister("file_read")
	assert.Equal(t, 1, r.Len())
}

func TestRegistryClearAllowsReregistration(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(defWith("file_read")))
	r.Clear()
	assert.Equal(t, 0, r.Len())
	require.NoError(t, r.Register(defWith("file_read")))
}

func TestRegistryFilters(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(defWith("file_read", func(d *Definition) {
		d.Metadata.Category = "filesystem"
		d.Metadata.Risk = RiskLow
		d.Metadata.Description = "Read a file from the workspace"
	})))
	require.NoError(t, r.Register(defWith("git_push", func(d *Definition) {
		d.Metadata.Category = "git"
		d.Metadata.Risk = RiskHigh
		d.Metadata.Modes = map[Mode]bool{ModeAgent: true, ModeAutonomous: true}
	})))

	byMode := r.ByMode(ModeAssistant)
	require.Len(t, byMode, 1)
	assert.Equal(t, ID("file_read"), byMode[0].ID)

	byCat := r.ByCategory("git")
	require.Len(t, byCat, 1)
	assert.Equal(t, ID("git_push"), byCat[0].ID)

	byRisk := r.ByRiskLevel(RiskHigh)
	require.Len(t, byRisk, 1)
	assert.Equal(t, ID("git_push"), byRisk[0].ID)
}

func TestRegistrySearch(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(defWith("file_read", func(d *Definition) {
		d.Metadata.Name = "Read File"
		d.Metadata.Description = "Read a file from the workspace"
		d.Metadata.Category = "filesystem"
	})))
	require.NoError(t, r.Register(defWith("shell_exec", func(d *Definition) {
		d.Metadata.Description = "Run a shell command"
		d.Metadata.Category = "shell"
	})))

	hits := r.Search("WORKSPACE")
	require.Len(t, hits, 1)
	assert.Equal(t, ID("file_read"), hits[0].ID)

	hits = r.Search("shell")
	require.Len(t, hits, 1)
	assert.Equal(t, ID("shell_exec"), hits[0].ID)

	assert.Empty(t, r.Search(""))
	assert.Empty(t, r.Search("   "))
	assert.Empty(t, r.Search("no-such-thing"))
}

func TestRegistryIDsSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(defWith("zeta")))
	require.NoError(t, r.Register(defWith("alpha")))
	require.NoError(t, r.Register(defWith("mid")))

	assert.Equal(t, []ID{"alpha", "mid", "zeta"}, r.IDs())
}
