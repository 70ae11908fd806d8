package deejng

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSessionRefreshInterval = time.Second * 5

type cachedSession struct {
	session     Session
	processName string
	processID   uint32
	lastSeen    time.Time
}

// sessionCache maps normalized target names to live session handles. It is
// TTL-refreshed: RefreshIfStale runs a full enumeration sweep whenever more
// than the refresh interval elapsed since the last sweep, and that sweep is
// the single point where the cache converges to ground truth.
//
// A single lock covers every read, write and sweep - the underlying session
// enumeration is not safe for concurrent iteration.
type sessionCache struct {
	logger    *zap.SugaredLogger
	finder    SessionFinder
	procNames *processNameResolver

	lock        sync.Mutex
	entries     map[string]*cachedSession
	lastRefresh time.Time
	ttl         time.Duration

	// invoked (outside enumeration, still under the lock) for every handle
	// newly inserted by a sweep, so the router can subscribe to its events
	onSessionCached func(name string, session Session)
}

func newSessionCache(logger *zap.SugaredLogger, finder SessionFinder,
	procNames *processNameResolver, ttl time.Duration) *sessionCache {
	logger = logger.Named("session_cache")

	if ttl <= 0 {
		ttl = defaultSessionRefreshInterval
	}

	sc := &sessionCache{
		logger:    logger,
		finder:    finder,
		procNames: procNames,
		entries:   make(map[string]*cachedSession),
		ttl:       ttl,
	}

	logger.Debug("Created session cache instance")

	return sc
}

// Lookup returns the cached handle for a normalized target name.
func (sc *sessionCache) Lookup(normalizedName string) (Session, bool) {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	entry, ok := sc.entries[normalizedName]
	if !ok {
		return nil, false
	}

	return entry.session, true
}

// RefreshIfStale runs a refresh sweep when the cache is older than its TTL.
func (sc *sessionCache) RefreshIfStale() {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	if time.Since(sc.lastRefresh) > sc.ttl {
		sc.refreshLocked()
	}
}

// Refresh unconditionally runs a full sweep.
func (sc *sessionCache) Refresh() {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	sc.refreshLocked()
}

// refreshLocked enumerates all active sessions, resolves their process names,
// updates lastSeen on entries that are still visible, inserts entries for new
// names and evicts every entry whose name was not re-observed. Caller must
// hold the lock.
func (sc *sessionCache) refreshLocked() {
	now := time.Now()
	sc.lastRefresh = now

	sessions, err := sc.finder.GetAllSessions()
	if err != nil {
		// treat the sweep as yielding zero sessions this cycle; the next
		// caller retries on its own schedule
		sc.logger.Warnw("Failed to enumerate audio sessions during refresh",
			"error", err,
			"kind", ErrEnumerationFailed)
		sessions = nil
	}

	observed := make(map[string]struct{}, len(sessions))

	for _, session := range sessions {
		name := sc.sessionName(session)
		if name == "" {
			session.Release()
			continue
		}

		if _, seen := observed[name]; seen {
			// same-named process with multiple sessions; the first one wins
			session.Release()
			continue
		}
		observed[name] = struct{}{}

		if entry, ok := sc.entries[name]; ok {
			entry.lastSeen = now
			session.Release()
			continue
		}

		sc.entries[name] = &cachedSession{
			session:     session,
			processName: name,
			processID:   session.ProcessID(),
			lastSeen:    now,
		}

		if sc.onSessionCached != nil {
			sc.onSessionCached(name, session)
		}
	}

	for name, entry := range sc.entries {
		if _, ok := observed[name]; !ok {
			sc.logger.Debugw("Evicting stale session cache entry", "name", name)
			entry.session.Release()
			delete(sc.entries, name)
		}
	}

	sc.logger.Debugw("Session cache refreshed", "entries", len(sc.entries))
}

// Store inserts a handle resolved outside a sweep (the resolver's fallback
// path) under the given normalized name, replacing any previous entry.
func (sc *sessionCache) Store(normalizedName string, session Session) {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	if old, ok := sc.entries[normalizedName]; ok && old.session != session {
		old.session.Release()
	}

	sc.entries[normalizedName] = &cachedSession{
		session:     session,
		processName: sc.sessionName(session),
		processID:   session.ProcessID(),
		lastSeen:    time.Now(),
	}

	if sc.onSessionCached != nil {
		sc.onSessionCached(normalizedName, session)
	}
}

// Invalidate evicts the entry for a normalized name, releasing its handle.
// Used when a write against the handle failed or the session disconnected.
func (sc *sessionCache) Invalidate(normalizedName string) {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	entry, ok := sc.entries[normalizedName]
	if !ok {
		return
	}

	sc.logger.Debugw("Invalidating session cache entry",
		"name", normalizedName,
		"pid", entry.processID)

	entry.session.Release()
	delete(sc.entries, normalizedName)
}

// Names returns the currently cached normalized names, for diagnostics.
func (sc *sessionCache) Names() []string {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	names := make([]string, 0, len(sc.entries))
	for name := range sc.entries {
		names = append(names, name)
	}

	return names
}

// Clear evicts everything, releasing all handles.
func (sc *sessionCache) Clear() {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	for name, entry := range sc.entries {
		entry.session.Release()
		delete(sc.entries, name)
	}

	sc.lastRefresh = time.Time{}

	sc.logger.Debug("Session cache cleared")
}

// sessionName determines the normalized addressable name for a session:
// its pid resolved to an executable name where possible, falling back to
// the session's own key (device sessions, system sounds).
func (sc *sessionCache) sessionName(session Session) string {
	if pid := session.ProcessID(); pid != 0 {
		if name := sc.procNames.Resolve(pid); name != "" {
			return strings.ToLower(name)
		}
	}

	return strings.ToLower(session.Key())
}
