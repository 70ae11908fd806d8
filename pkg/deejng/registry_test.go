package deejng

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryUpdateMappingAndLookup(t *testing.T) {
	t.Parallel()

	registry := NewControlRegistry(testLogger())
	control := &fakeControl{}

	registry.UpdateMapping(control, []Target{{Name: "Chrome"}, {Name: "spotify"}})

	found, ok := registry.Lookup("chrome")
	require.True(t, ok)
	require.Same(t, control, found.(*fakeControl))

	_, ok = registry.Lookup("discord")
	require.False(t, ok)

	require.ElementsMatch(t, []string{"chrome", "spotify"}, registry.MappedNames())
}

func TestRegistryUpdateMappingReplacesPreviousSet(t *testing.T) {
	t.Parallel()

	registry := NewControlRegistry(testLogger())
	control := &fakeControl{}

	registry.UpdateMapping(control, []Target{{Name: "chrome"}, {Name: "spotify"}})
	registry.UpdateMapping(control, []Target{{Name: "discord"}})

	_, ok := registry.Lookup("chrome")
	require.False(t, ok)
	_, ok = registry.Lookup("spotify")
	require.False(t, ok)

	found, ok := registry.Lookup("discord")
	require.True(t, ok)
	require.Same(t, control, found.(*fakeControl))
}

func TestRegistryReassignmentDetachesPreviousOwner(t *testing.T) {
	t.Parallel()

	registry := NewControlRegistry(testLogger())
	a := &fakeControl{}
	b := &fakeControl{}

	registry.UpdateMapping(a, []Target{{Name: "chrome"}, {Name: "spotify"}})
	registry.UpdateMapping(b, []Target{{Name: "chrome"}})

	found, ok := registry.Lookup("chrome")
	require.True(t, ok)
	require.Same(t, b, found.(*fakeControl))

	// a still owns spotify, and removing a must not disturb b's entry
	registry.RemoveControl(a)

	_, ok = registry.Lookup("spotify")
	require.False(t, ok)

	found, ok = registry.Lookup("chrome")
	require.True(t, ok)
	require.Same(t, b, found.(*fakeControl))
}

func TestRegistrySkipsInputDeviceAndBlankTargets(t *testing.T) {
	t.Parallel()

	registry := NewControlRegistry(testLogger())
	control := &fakeControl{}

	registry.UpdateMapping(control, []Target{
		{Name: "mic", IsInputDevice: true},
		{Name: "   "},
		{Name: "chrome"},
	})

	_, ok := registry.Lookup("mic")
	require.False(t, ok)

	require.ElementsMatch(t, []string{"chrome"}, registry.MappedNames())
}

func TestRegistryRemoveControlIsIdempotent(t *testing.T) {
	t.Parallel()

	registry := NewControlRegistry(testLogger())
	control := &fakeControl{}

	registry.UpdateMapping(control, []Target{{Name: "chrome"}})

	registry.RemoveControl(control)
	registry.RemoveControl(control)
	registry.RemoveControl(&fakeControl{}) // never registered

	_, ok := registry.Lookup("chrome")
	require.False(t, ok)
	require.Empty(t, registry.MappedNames())
}

func TestRegistryNilControlIsNoOp(t *testing.T) {
	t.Parallel()

	registry := NewControlRegistry(testLogger())

	registry.UpdateMapping(nil, []Target{{Name: "chrome"}})
	registry.RemoveControl(nil)

	require.Empty(t, registry.MappedNames())
}
