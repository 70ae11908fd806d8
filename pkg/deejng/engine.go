package deejng

import (
	"time"

	"go.uber.org/zap"
)

// EngineParams tunes the engine's caching behavior. Zero values fall back to
// the defaults the rest of the system assumes.
type EngineParams struct {
	// SessionRefreshInterval is the session cache TTL (default 5s).
	SessionRefreshInterval time.Duration

	// ShowMasterFlyout enables the OS volume OSD on master volume writes.
	ShowMasterFlyout bool
}

// Engine is the audio target resolution and control engine: it turns logical
// targets into live session handles, applies volume/mute changes to them, and
// routes OS-originated session events back to whichever control currently
// represents the target.
//
// An Engine is an explicitly constructed, owned instance; independent engines
// don't share any state.
type Engine struct {
	logger *zap.SugaredLogger
	finder SessionFinder

	procNames *processNameResolver
	cache     *sessionCache
	resolver  *targetResolver
	applier   *volumeApplier
	registry  *ControlRegistry
	router    *eventRouter
}

func NewEngine(logger *zap.SugaredLogger, finder SessionFinder, params EngineParams) (*Engine, error) {
	logger = logger.Named("engine")

	procNames := newProcessNameResolver(logger)
	cache := newSessionCache(logger, finder, procNames, params.SessionRefreshInterval)
	registry := NewControlRegistry(logger)
	router := newEventRouter(logger, registry, cache)
	resolver := newTargetResolver(logger, finder, cache, procNames)
	applier := newVolumeApplier(logger, resolver, cache, finder, params.ShowMasterFlyout)

	// every handle that enters the cache gets its events routed; the
	// subscription captures the target name only, so reassignment never
	// strands an event on a dead control reference
	cache.onSessionCached = router.Subscribe

	e := &Engine{
		logger:    logger,
		finder:    finder,
		procNames: procNames,
		cache:     cache,
		resolver:  resolver,
		applier:   applier,
		registry:  registry,
		router:    router,
	}

	logger.Debug("Created engine instance")

	return e, nil
}

// Start launches the event dispatch goroutine. Must be called before any
// session events can be delivered; apply/resolve calls work without it.
func (e *Engine) Start() {
	e.router.Start()
}

// Release stops event dispatch and releases every held session handle.
func (e *Engine) Release() error {
	e.router.Stop()
	e.cache.Clear()

	if err := e.finder.Release(); err != nil {
		e.logger.Warnw("Failed to release session finder", "error", err)
		return err
	}

	return nil
}

// UpdateMapping atomically reassigns the targets represented by control.
func (e *Engine) UpdateMapping(control Control, targets []Target) {
	e.registry.UpdateMapping(control, targets)
}

// RemoveControl drops every mapping owned by control. Idempotent.
func (e *Engine) RemoveControl(control Control) {
	e.registry.RemoveControl(control)
}

// Lookup returns the control currently assigned to a normalized target name.
func (e *Engine) Lookup(normalizedName string) (Control, bool) {
	return e.registry.Lookup(normalizedName)
}

// MappedTargetNames returns every target name currently assigned to a
// control, for the presentation layer's "unmapped" resolution.
func (e *Engine) MappedTargetNames() []string {
	return e.registry.MappedNames()
}

// ApplyVolume applies the clamped level and mute flag to the target.
// Returns false when the target can't be resolved or its handle went stale.
func (e *Engine) ApplyVolume(target Target, level float32, muted bool) bool {
	return e.applier.ApplyVolume(target, level, muted)
}

// ApplyMuteToTargets applies one mute state to each target independently,
// continuing past individual failures.
func (e *Engine) ApplyMuteToTargets(targets []Target, muted bool) bool {
	return e.applier.ApplyMuteToTargets(targets, muted)
}

// Resolve returns a live session handle for the target, or ErrResolutionMiss.
// Exposed for the presentation layer's meter reads.
func (e *Engine) Resolve(target Target) (Session, error) {
	return e.resolver.Resolve(target)
}

// RefreshSessions forces a full cache sweep, for the tray's manual re-scan.
func (e *Engine) RefreshSessions() {
	e.cache.Refresh()
}

// InvalidateSessions evicts every cached handle; the next resolution starts
// from a clean sweep. Used after config reloads.
func (e *Engine) InvalidateSessions() {
	e.cache.Clear()
}
