package deejng

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClampLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, float32(1.0), clampLevel(1.7))
	require.Equal(t, float32(0.0), clampLevel(-0.3))
	require.Equal(t, float32(0.42), clampLevel(0.42))
	require.Equal(t, float32(0.0), clampLevel(0.0))
	require.Equal(t, float32(1.0), clampLevel(1.0))
}

func TestApplyVolumeWritesClampedLevel(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	require.True(t, engine.ApplyVolume(Target{Name: "chrome"}, 1.7, false))

	handle := finder.lastHandleFor("chrome")
	require.NotNil(t, handle)
	require.Equal(t, float32(1.0), handle.GetVolume())
	require.False(t, handle.GetMute())
}

func TestApplyVolumeMutedSkipsVolumeWrite(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	require.True(t, engine.ApplyVolume(Target{Name: "chrome"}, 0.8, true))

	handle := finder.lastHandleFor("chrome")
	require.True(t, handle.GetMute())

	// while muted, the volume level is never written
	handle.lock.Lock()
	volumeWrites := handle.volumeWrites
	muteWrites := handle.muteWrites
	handle.lock.Unlock()
	require.Zero(t, volumeWrites)
	require.Equal(t, 1, muteWrites)
}

func TestApplyVolumeUnresolvableTargetFails(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	require.False(t, engine.ApplyVolume(Target{Name: "discord"}, 0.5, false))
	require.False(t, engine.ApplyVolume(Target{Name: "unmapped"}, 0.5, false))
}

func TestApplyVolumeStaleHandleEvictsAndRecovers(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	// resolve once so the cache holds a live handle, then kill it
	session, err := engine.Resolve(Target{Name: "chrome"})
	require.NoError(t, err)
	session.(*fakeSession).markStale()

	// the write fails and the entry is evicted; no retry within the call
	require.False(t, engine.ApplyVolume(Target{Name: "chrome"}, 0.5, false))
	_, cached := engine.cache.Lookup("chrome")
	require.False(t, cached)

	// the process "relaunched": the next apply re-resolves a fresh handle
	require.True(t, engine.ApplyVolume(Target{Name: "chrome"}, 0.5, false))

	fresh := finder.lastHandleFor("chrome")
	require.NotSame(t, session.(*fakeSession), fresh)
	require.Equal(t, float32(0.5), fresh.GetVolume())
}

func TestApplyVolumeSystemTargetWritesMaster(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	require.True(t, engine.ApplyVolume(Target{Name: "system"}, 0.25, false))
	require.Equal(t, float32(0.25), finder.master.GetVolume())

	// blank targets also address the master volume
	require.True(t, engine.ApplyVolume(Target{Name: ""}, 0.75, false))
	require.Equal(t, float32(0.75), finder.master.GetVolume())

	require.Zero(t, finder.enumerationCount())
}

func TestApplyVolumeInputDeviceWritesCapture(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder()
	engine := newTestEngine(finder, time.Minute)

	require.True(t, engine.ApplyVolume(Target{Name: "mic", IsInputDevice: true}, 0.6, false))
	require.Equal(t, float32(0.6), finder.capture.GetVolume())
}

func TestApplyMuteToTargetsContinuesPastFailures(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(
		newFakeSession("chrome", 4321),
		newFakeSession("spotify", 5100),
	)
	engine := newTestEngine(finder, time.Minute)

	targets := []Target{
		{Name: "chrome"},
		{Name: "discord"}, // not running
		{Name: "spotify"},
	}

	require.False(t, engine.ApplyMuteToTargets(targets, true))

	// the unresolvable target didn't stop the others from being muted
	chrome, ok := engine.cache.Lookup("chrome")
	require.True(t, ok)
	require.True(t, chrome.GetMute())

	spotify, ok := engine.cache.Lookup("spotify")
	require.True(t, ok)
	require.True(t, spotify.GetMute())
}

func TestApplyMuteToTargetsAllSucceed(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	targets := []Target{{Name: "chrome"}, {Name: "system"}}

	require.True(t, engine.ApplyMuteToTargets(targets, true))
	require.True(t, finder.lastHandleFor("chrome").GetMute())
	require.True(t, finder.master.GetMute())

	require.True(t, engine.ApplyMuteToTargets(targets, false))
	require.False(t, finder.lastHandleFor("chrome").GetMute())
	require.False(t, finder.master.GetMute())
}

func TestApplyVolumeCurrentWindowTargetsForegroundProcess(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	engine.applier.currentWindowProcessNames = func() ([]string, error) {
		return []string{"Chrome", "chrome"}, nil
	}

	require.True(t, engine.ApplyVolume(Target{Name: "deejng.current"}, 0.3, false))

	chrome, ok := engine.cache.Lookup("chrome")
	require.True(t, ok)
	require.Equal(t, float32(0.3), chrome.GetVolume())
}

func TestApplyMuteToTargetsExpandsCurrentWindow(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(
		newFakeSession("chrome", 4321),
		newFakeSession("spotify", 5100),
	)
	engine := newTestEngine(finder, time.Minute)

	engine.applier.currentWindowProcessNames = func() ([]string, error) {
		return []string{"Chrome"}, nil
	}

	targets := []Target{{Name: "deejng.current"}, {Name: "spotify"}}

	require.True(t, engine.ApplyMuteToTargets(targets, true))

	chrome, ok := engine.cache.Lookup("chrome")
	require.True(t, ok)
	require.True(t, chrome.GetMute())

	spotify, ok := engine.cache.Lookup("spotify")
	require.True(t, ok)
	require.True(t, spotify.GetMute())

	require.True(t, engine.ApplyMuteToTargets(targets, false))
	require.False(t, chrome.GetMute())
	require.False(t, spotify.GetMute())
}

func TestApplyMuteToTargetsCurrentWindowDetectionFailure(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	engine.applier.currentWindowProcessNames = func() ([]string, error) {
		return nil, errors.New("no foreground window")
	}

	targets := []Target{{Name: "deejng.current"}, {Name: "chrome"}}

	// detection failure counts against the batch but doesn't stop it
	require.False(t, engine.ApplyMuteToTargets(targets, true))

	chrome, ok := engine.cache.Lookup("chrome")
	require.True(t, ok)
	require.True(t, chrome.GetMute())
}

func TestApplyMuteToTargetsStaleHandleEvicts(t *testing.T) {
	t.Parallel()

	finder := newFakeSessionFinder(newFakeSession("chrome", 4321))
	engine := newTestEngine(finder, time.Minute)

	session, err := engine.Resolve(Target{Name: "chrome"})
	require.NoError(t, err)
	session.(*fakeSession).markStale()

	require.False(t, engine.ApplyMuteToTargets([]Target{{Name: "chrome"}}, true))

	_, cached := engine.cache.Lookup("chrome")
	require.False(t, cached)
}
