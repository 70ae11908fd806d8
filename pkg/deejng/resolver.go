package deejng

import (
	"strings"

	"go.uber.org/zap"
)

// targetResolver turns a logical target into a live, controllable session
// handle. Resolution never fails loudly: a target with no matching session
// yields ErrResolutionMiss and nothing else.
type targetResolver struct {
	logger    *zap.SugaredLogger
	finder    SessionFinder
	cache     *sessionCache
	procNames *processNameResolver
}

func newTargetResolver(logger *zap.SugaredLogger, finder SessionFinder,
	cache *sessionCache, procNames *processNameResolver) *targetResolver {
	return &targetResolver{
		logger:    logger.Named("resolver"),
		finder:    finder,
		cache:     cache,
		procNames: procNames,
	}
}

// Resolve returns a handle for the target, first match wins:
// sentinels, then the (TTL-refreshed) cache, then a fallback re-enumeration
// with heuristic matching that populates the cache as a side effect.
func (tr *targetResolver) Resolve(target Target) (Session, error) {
	// the system sentinel always maps to the default render endpoint's
	// master volume, independent of cache contents
	if target.IsSystem() {
		master, err := tr.finder.GetDefaultRenderSession()
		if err != nil {
			tr.logger.Warnw("Failed to get default render session",
				"error", err,
				"kind", ErrEnumerationFailed)
			return nil, ErrResolutionMiss
		}

		return master, nil
	}

	// "unmapped" is resolved by the presentation layer, never here
	if target.IsUnmapped() || target.IsBlank() {
		return nil, ErrResolutionMiss
	}

	if target.IsInputDevice {
		capture, err := tr.finder.GetDefaultCaptureSession()
		if err != nil {
			tr.logger.Warnw("Failed to get default capture session",
				"error", err,
				"kind", ErrEnumerationFailed)
			return nil, ErrResolutionMiss
		}

		return capture, nil
	}

	name := target.NormalizedName()

	tr.cache.RefreshIfStale()

	if session, ok := tr.cache.Lookup(name); ok {
		return session, nil
	}

	// the session may have appeared between the sweep and the lookup, or its
	// process name may not match the target exactly; re-enumerate and match
	// defensively
	return tr.resolveByEnumeration(name)
}

// resolveByEnumeration walks a fresh enumeration looking for a session whose
// process name equals the target name, or - failing that - whose OS session
// or instance identifier contains it as a substring. The identifier test is a
// deliberate availability-over-precision heuristic: a short target name can
// false-positive against an unrelated identifier, and user-observed behavior
// depends on the match still happening.
func (tr *targetResolver) resolveByEnumeration(name string) (Session, error) {
	sessions, err := tr.finder.GetAllSessions()
	if err != nil {
		tr.logger.Warnw("Failed to enumerate audio sessions during fallback resolution",
			"error", err,
			"kind", ErrEnumerationFailed)
		return nil, ErrResolutionMiss
	}

	var match Session

	for _, session := range sessions {
		if match == nil && tr.sessionMatches(session, name) {
			match = session
			continue
		}

		session.Release()
	}

	if match == nil {
		tr.logger.Debugw("No session matches target", "target", name)
		return nil, ErrResolutionMiss
	}

	tr.logger.Debugw("Resolved target via fallback enumeration",
		"target", name,
		"pid", match.ProcessID())

	tr.cache.Store(name, match)

	return match, nil
}

func (tr *targetResolver) sessionMatches(session Session, name string) bool {
	processName := session.Key()
	if pid := session.ProcessID(); pid != 0 {
		if resolved := tr.procNames.Resolve(pid); resolved != "" {
			processName = resolved
		}
	}

	if strings.EqualFold(processName, name) {
		return true
	}

	if sessionID := strings.ToLower(session.SessionID()); sessionID != "" &&
		strings.Contains(sessionID, name) {
		return true
	}

	if instanceID := strings.ToLower(session.InstanceID()); instanceID != "" &&
		strings.Contains(instanceID, name) {
		return true
	}

	return false
}
