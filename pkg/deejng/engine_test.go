package deejng

import (
	"errors"
	"testing"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"
)

// A running browser gets resolved by executable name, cached, and served
// from the cache for the rest of the TTL window.
func TestEngineResolvesByProcessNameAndCaches(t *testing.T) {
	t.Parallel()

	blueprint := newFakeSession("msedge", 4321)
	finder := newFakeSessionFinder(blueprint)
	engine := newTestEngine(finder, 5*time.Second)

	// the pid resolves to chrome.exe even though the session key says otherwise
	engine.procNames.findProcess = func(pid int) (ps.Process, error) {
		if pid == 4321 {
			return fakeProcess{pid: pid, name: "chrome.exe"}, nil
		}
		return nil, errors.New("no such process")
	}

	first, err := engine.Resolve(Target{Name: "chrome.exe"})
	require.NoError(t, err)
	require.Equal(t, uint32(4321), first.ProcessID())
	require.Equal(t, 1, finder.enumerationCount())

	second, err := engine.Resolve(Target{Name: "chrome.exe"})
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, finder.enumerationCount())
}

// Full stale-handle cycle: the app quits, writes fail, the handle is evicted,
// the app relaunches and the next apply controls the fresh session.
func TestEngineStaleHandleRelaunchCycle(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	target := Target{Name: "chrome"}

	require.True(t, engine.ApplyVolume(target, 0.5, false))
	original := finder.lastHandleFor("chrome")
	require.Equal(t, float32(0.5), original.GetVolume())

	// the process quits: every write against the old handle now fails
	original.markStale()
	finder.setSessions()

	require.False(t, engine.ApplyVolume(target, 0.6, false))
	_, cached := engine.cache.Lookup("chrome")
	require.False(t, cached)

	// while the process is gone, resolution misses and applies keep failing
	_, err := engine.Resolve(target)
	require.ErrorIs(t, err, ErrResolutionMiss)
	require.False(t, engine.ApplyVolume(target, 0.6, false))

	// relaunch under a new pid
	finder.setSessions(newFakeSession("chrome", 8765))

	require.True(t, engine.ApplyVolume(target, 0.7, false))

	fresh := finder.lastHandleFor("chrome")
	require.NotSame(t, original, fresh)
	require.Equal(t, uint32(8765), fresh.ProcessID())
	require.Equal(t, float32(0.7), fresh.GetVolume())
}

// Events fired on a cached session reach whichever control currently owns the
// target, even across a reassignment and a mute applied in between.
func TestEngineEventRoutingSurvivesRemapping(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := startTestEngine(t, finder, time.Minute)

	a := &fakeControl{}
	engine.UpdateMapping(a, []Target{{Name: "chrome"}, {Name: "system"}})

	require.True(t, engine.ApplyVolume(Target{Name: "chrome"}, 0.4, false))

	handle := finder.lastHandleFor("chrome")
	handler := handle.events()
	require.NotNil(t, handler)

	handler.OnVolumeChanged(0.4, true)
	require.Eventually(t, func() bool {
		return len(a.mutedCalls()) == 1
	}, time.Second, 5*time.Millisecond)

	b := &fakeControl{}
	engine.UpdateMapping(b, []Target{{Name: "chrome"}})

	handler.OnVolumeChanged(0.4, false)
	require.Eventually(t, func() bool {
		return len(b.mutedCalls()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Len(t, a.mutedCalls(), 1)

	// a still owns "system"; chrome's events no longer reach it
	found, ok := engine.Lookup("system")
	require.True(t, ok)
	require.Same(t, a, found.(*fakeControl))
}

func TestEngineMappedTargetNames(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder()
	engine := newTestEngine(finder, time.Minute)

	a := &fakeControl{}
	b := &fakeControl{}
	engine.UpdateMapping(a, []Target{{Name: "chrome"}, {Name: "spotify"}})
	engine.UpdateMapping(b, []Target{{Name: "discord"}})

	require.ElementsMatch(t, []string{"chrome", "spotify", "discord"},
		engine.MappedTargetNames())

	engine.RemoveControl(a)
	require.ElementsMatch(t, []string{"discord"}, engine.MappedTargetNames())
}

func TestEngineInvalidateSessionsForcesCleanResolve(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	first, err := engine.Resolve(Target{Name: "chrome"})
	require.NoError(t, err)
	require.Equal(t, 1, finder.enumerationCount())

	engine.InvalidateSessions()
	require.True(t, first.(*fakeSession).isReleased())

	second, err := engine.Resolve(Target{Name: "chrome"})
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, 2, finder.enumerationCount())
}

func TestEngineReleaseClearsCacheAndFinder(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)
	engine.Start()

	_, err := engine.Resolve(Target{Name: "chrome"})
	require.NoError(t, err)

	require.NoError(t, engine.Release())
	require.Empty(t, engine.cache.Names())
}
