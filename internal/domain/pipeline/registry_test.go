package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(name string) Entry {
	return Entry{
		Meta: Meta{
			Name:             name,
			AvailableSignals: []string{"go"},
			AvailableStates:  []string{"idle"},
		},
		Defaults: Config{"rate": 10, "camera": map[string]any{"width": 640}},
		New: func(env Env) (Pipeline, error) {
			return newFakePipeline(), nil
		},
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testEntry("b")))
	require.NoError(t, reg.Register(testEntry("a")))

	err := reg.Register(testEntry("a"))
	assert.ErrorIs(t, err, ErrDuplicatePipeline)

	e, err := reg.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, "a", e.Meta.Name)

	_, err = reg.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownPipeline)

	assert.Equal(t, []string{"a", "b"}, reg.Names())
	assert.True(t, reg.Has("b"))
}

func TestRegistryRejectsIncompleteEntries(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.Register(Entry{}))
	assert.Error(t, reg.Register(Entry{Meta: Meta{Name: "x"}}))
}

func TestRegistryBuildMergesDefaults(t *testing.T) {
	reg := NewRegistry()

	var got Env
	entry := testEntry("p")
	entry.New = func(env Env) (Pipeline, error) {
		got = env
		return newFakePipeline(), nil
	}
	require.NoError(t, reg.Register(entry))

	_, err := reg.Build("p", Config{"camera": map[string]any{"height": 480}}, Env{})
	require.NoError(t, err)

	assert.Equal(t, "p", got.Name)
	assert.Equal(t, 10, got.Config["rate"])
	assert.Equal(t, map[string]any{"width": 640, "height": 480}, got.Config["camera"])
	assert.NotNil(t, got.Publisher)
	assert.NotNil(t, got.Logger)
}

func TestRegistryBuildWrapsConstructorErrors(t *testing.T) {
	reg := NewRegistry()
	entry := testEntry("broken")
	entry.New = func(Env) (Pipeline, error) { return nil, errors.New("no camera") }
	require.NoError(t, reg.Register(entry))

	_, err := reg.Build("broken", nil, Env{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no camera")

	_, err = reg.Build("nope", nil, Env{})
	assert.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestRegistryClear(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testEntry("a")))

	reg.Clear()
	assert.Empty(t, reg.List())
}
