package deejng

import (
	"strings"
	"time"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/jimmyeao/DeejNG-sub001/pkg/deejng/util"
)

// volumeApplier clamps and writes volume/mute state to resolved session
// handles. A failed write means the handle went stale: the cache entry is
// evicted so the next call re-resolves from scratch.
type volumeApplier struct {
	logger   *zap.SugaredLogger
	resolver *targetResolver
	cache    *sessionCache
	finder   SessionFinder

	showFlyout           bool
	lastMasterFlyoutTime time.Time

	// swappable for testing
	currentWindowProcessNames func() ([]string, error)
}

func newVolumeApplier(logger *zap.SugaredLogger, resolver *targetResolver,
	cache *sessionCache, finder SessionFinder, showFlyout bool) *volumeApplier {
	return &volumeApplier{
		logger:                    logger.Named("applier"),
		resolver:                  resolver,
		cache:                     cache,
		finder:                    finder,
		showFlyout:                showFlyout,
		currentWindowProcessNames: util.GetCurrentWindowProcessNames,
	}
}

// clampLevel forces a volume level into [0.0, 1.0]. Out-of-range input is
// silently clamped, never rejected.
func clampLevel(level float32) float32 {
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}

	return level
}

// ApplyVolume writes the mute flag and, when unmuted, the clamped volume
// level to the target's session. Returns false when the target can't be
// resolved or the write fails; it never retries within the same call.
func (va *volumeApplier) ApplyVolume(target Target, level float32, muted bool) bool {
	level = clampLevel(level)

	// the system sentinel and blank targets operate on the default render
	// endpoint's master volume directly
	if target.IsSystem() || target.IsBlank() {
		return va.applyToMaster(level, muted)
	}

	if target.IsCurrentWindow() {
		return va.applyToCurrentWindow(level, muted)
	}

	session, err := va.resolver.Resolve(target)
	if err != nil {
		return false
	}

	if !va.writeSession(session, level, muted) {
		// stale handle: evict so the next call re-resolves
		if target.IsInputDevice {
			session.Release()
		} else {
			va.cache.Invalidate(target.NormalizedName())
		}

		return false
	}

	if target.IsInputDevice {
		// capture handles are created per call, not cached
		session.Release()
	}

	return true
}

// ApplyMuteToTargets applies the same mute state to each target
// independently, continuing past individual failures. Returns true only if
// every target succeeded.
func (va *volumeApplier) ApplyMuteToTargets(targets []Target, muted bool) bool {
	allOk := true

	for _, target := range targets {
		if target.IsCurrentWindow() {
			expanded := va.currentWindowTargets()
			if len(expanded) == 0 || !va.ApplyMuteToTargets(expanded, muted) {
				allOk = false
			}

			continue
		}

		session, err := va.resolver.Resolve(target)
		if err != nil {
			allOk = false
			continue
		}

		perCallHandle := target.IsInputDevice || target.IsSystem()

		if err := session.SetMute(muted); err != nil {
			va.logger.Warnw("Failed to set mute for target",
				"target", target.NormalizedName(),
				"error", err,
				"kind", ErrStaleHandle)

			if !perCallHandle {
				va.cache.Invalidate(target.NormalizedName())
			}
			allOk = false
		}

		if perCallHandle {
			session.Release()
		}
	}

	return allOk
}

func (va *volumeApplier) applyToMaster(level float32, muted bool) bool {
	master, err := va.finder.GetDefaultRenderSession()
	if err != nil {
		va.logger.Warnw("Failed to get default render session",
			"error", err,
			"kind", ErrEnumerationFailed)
		return false
	}
	defer master.Release()

	if !va.writeSession(master, level, muted) {
		return false
	}

	va.maybeShowMasterFlyout()

	return true
}

// applyToCurrentWindow targets the process that owns the foreground window,
// including any audio-playing child processes it hides behind (UWP, steam).
func (va *volumeApplier) applyToCurrentWindow(level float32, muted bool) bool {
	applied := false

	for _, target := range va.currentWindowTargets() {
		if va.ApplyVolume(target, level, muted) {
			applied = true
		}
	}

	return applied
}

// currentWindowTargets expands the foreground window into process-name
// targets. Empty when detection fails or nothing owns the foreground window.
func (va *volumeApplier) currentWindowTargets() []Target {
	processNames, err := va.currentWindowProcessNames()
	if err != nil || len(processNames) == 0 {
		return nil
	}

	for idx, name := range processNames {
		processNames[idx] = strings.ToLower(name)
	}
	processNames = funk.UniqString(processNames)

	targets := make([]Target, 0, len(processNames))
	for _, name := range processNames {
		targets = append(targets, Target{Name: name})
	}

	return targets
}

// writeSession performs the ordered write: mute flag first, volume level only
// while unmuted (the OS may reject or ignore volume writes on a muted
// session). Any error marks the handle stale.
func (va *volumeApplier) writeSession(session Session, level float32, muted bool) bool {
	if err := session.SetMute(muted); err != nil {
		va.logger.Warnw("Failed to set session mute flag",
			"sessionKey", session.Key(),
			"error", err,
			"kind", ErrStaleHandle)
		return false
	}

	if muted {
		return true
	}

	if err := session.SetVolume(level); err != nil {
		va.logger.Warnw("Failed to set session volume",
			"sessionKey", session.Key(),
			"level", level,
			"error", err,
			"kind", ErrStaleHandle)
		return false
	}

	return true
}

func (va *volumeApplier) maybeShowMasterFlyout() {
	if !va.showFlyout {
		return
	}

	now := time.Now()
	if va.lastMasterFlyoutTime.Add(time.Second).Before(now) {
		if err := showAudioFlyout(); err != nil {
			va.logger.Debugw("Cannot display audio flyout", "error", err)
		}
		va.lastMasterFlyoutTime = now
	}
}
