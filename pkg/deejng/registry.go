package deejng

import (
	"sync"

	"go.uber.org/zap"
)

// Control is the notification contract expected of any on-screen element that
// represents one or more targets. The engine calls these; the presentation
// layer implements them. Controls must be comparable values (pointers work).
type Control interface {
	// SetMuted mirrors an externally-observed mute state change onto the control.
	SetMuted(muted bool)

	// HandleSessionExpired tells the control to reset its meter to zero and
	// mark itself visually disconnected.
	HandleSessionExpired()

	// HandleSessionDisconnected tells the control its session handle is
	// known-dead.
	HandleSessionDisconnected()

	// CurrentVolume returns the level the control currently displays.
	CurrentVolume() float32
}

// ControlRegistry is the bidirectional index answering "which on-screen
// element currently represents this target name". It is decoupled from when
// that element was created: the user can reassign a control's targets at any
// time, and in-flight OS events must resolve against the current assignment.
//
// Invariant: for every (name -> control) in the forward map, name is in
// reverse[control], and vice versa. The two maps are only ever updated
// together under one lock, so readers never observe a half-updated state.
type ControlRegistry struct {
	logger *zap.SugaredLogger

	lock    sync.Mutex
	forward map[string]Control
	reverse map[Control]map[string]struct{}
}

func NewControlRegistry(logger *zap.SugaredLogger) *ControlRegistry {
	logger = logger.Named("registry")

	cr := &ControlRegistry{
		logger:  logger,
		forward: make(map[string]Control),
		reverse: make(map[Control]map[string]struct{}),
	}

	logger.Debug("Created control registry instance")

	return cr
}

// UpdateMapping atomically replaces the set of targets owned by control:
// all of its previous entries are cleared, then every non-input-device,
// non-blank target in targets is inserted.
func (cr *ControlRegistry) UpdateMapping(control Control, targets []Target) {
	if control == nil {
		return
	}

	cr.lock.Lock()
	defer cr.lock.Unlock()

	cr.clearControlLocked(control)

	names := make(map[string]struct{})

	for _, target := range targets {
		if target.IsInputDevice || target.IsBlank() {
			continue
		}

		name := target.NormalizedName()

		// reassignment: detach the name from its previous owner so both
		// maps keep agreeing with each other
		if previous, ok := cr.forward[name]; ok && previous != control {
			if previousNames, ok := cr.reverse[previous]; ok {
				delete(previousNames, name)
				if len(previousNames) == 0 {
					delete(cr.reverse, previous)
				}
			}
		}

		cr.forward[name] = control
		names[name] = struct{}{}
	}

	if len(names) > 0 {
		cr.reverse[control] = names
	}

	cr.logger.Debugw("Updated control mapping", "targetCount", len(names))
}

// RemoveControl clears every entry owned by control. Idempotent: removing a
// control twice, or one that owns nothing, is a no-op.
func (cr *ControlRegistry) RemoveControl(control Control) {
	if control == nil {
		return
	}

	cr.lock.Lock()
	defer cr.lock.Unlock()

	cr.clearControlLocked(control)
}

// Lookup returns the control currently assigned to a normalized target name.
func (cr *ControlRegistry) Lookup(normalizedName string) (Control, bool) {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	control, ok := cr.forward[normalizedName]
	return control, ok
}

// MappedNames returns every currently assigned target name, for the
// presentation layer's "unmapped" sentinel resolution.
func (cr *ControlRegistry) MappedNames() []string {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	names := make([]string, 0, len(cr.forward))
	for name := range cr.forward {
		names = append(names, name)
	}

	return names
}

// clearControlLocked removes control's forward and reverse entries together.
// A forward entry is only removed while it still points at this control, so
// clearing an already-reassigned control never clobbers the new owner.
// Caller must hold the lock.
func (cr *ControlRegistry) clearControlLocked(control Control) {
	names, ok := cr.reverse[control]
	if !ok {
		return
	}

	for name := range names {
		if cr.forward[name] == control {
			delete(cr.forward, name)
		}
	}

	delete(cr.reverse, control)
}
