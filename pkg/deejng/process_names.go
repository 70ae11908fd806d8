package deejng

import (
	"sync"
	"time"

	"github.com/mitchellh/go-ps"
	"go.uber.org/zap"
)

const (
	// pids below this threshold belong to the OS idle/system processes and
	// reliably fail lookups with access-denied style errors
	lowestResolvableProcessID = 8

	processNameCacheCap        = 30
	processNameCleanupInterval = time.Minute
)

type processNameEntry struct {
	name       string // empty when the lookup failed
	insertedAt time.Time
}

// processNameResolver memoizes pid to executable-name lookups. Negative
// results are cached too, so short-lived or inaccessible processes don't
// trigger repeated failing lookups during enumeration sweeps.
type processNameResolver struct {
	logger *zap.SugaredLogger

	lock        sync.Mutex
	entries     map[uint32]processNameEntry
	cap         int
	lastCleanup time.Time

	// swappable for testing
	findProcess   func(pid int) (ps.Process, error)
	listProcesses func() ([]ps.Process, error)
}

func newProcessNameResolver(logger *zap.SugaredLogger) *processNameResolver {
	logger = logger.Named("process_names")

	pr := &processNameResolver{
		logger:        logger,
		entries:       make(map[uint32]processNameEntry),
		cap:           processNameCacheCap,
		lastCleanup:   time.Now(),
		findProcess:   ps.FindProcess,
		listProcesses: ps.Processes,
	}

	logger.Debug("Created process name resolver instance")

	return pr
}

// Resolve returns the executable name for pid, or an empty string when it
// can't be determined. It never fails; lookup errors are logged and cached
// as empty results.
func (pr *processNameResolver) Resolve(pid uint32) string {
	if pid < lowestResolvableProcessID {
		return ""
	}

	pr.lock.Lock()
	defer pr.lock.Unlock()

	now := time.Now()
	if now.Sub(pr.lastCleanup) > processNameCleanupInterval {
		pr.cleanup(now)
	}

	if entry, ok := pr.entries[pid]; ok {
		return entry.name
	}

	name := ""

	process, err := pr.findProcess(int(pid))
	if err != nil || process == nil {
		// the process exited, is protected, or the handle is ambiguous -
		// cache the miss and move on
		pr.logger.Debugw("Failed to look up process name",
			"pid", pid,
			"error", err,
			"kind", ErrProcessLookup)
	} else {
		name = process.Executable()
	}

	pr.entries[pid] = processNameEntry{name: name, insertedAt: now}

	return name
}

// cleanup drops entries for dead pids and, if the cache is still over cap,
// the oldest-inserted entries until it is at half cap. This is a coarse
// periodic sweep, not a precise LRU. Caller must hold the lock.
func (pr *processNameResolver) cleanup(now time.Time) {
	pr.lastCleanup = now

	if len(pr.entries) <= pr.cap {
		return
	}

	sizeBefore := len(pr.entries)

	if alive, err := pr.listProcesses(); err == nil {
		alivePids := make(map[uint32]struct{}, len(alive))
		for _, process := range alive {
			alivePids[uint32(process.Pid())] = struct{}{}
		}

		for pid := range pr.entries {
			if _, ok := alivePids[pid]; !ok {
				delete(pr.entries, pid)
			}
		}
	} else {
		pr.logger.Warnw("Failed to list alive processes during cleanup", "error", err)
	}

	if len(pr.entries) > pr.cap {
		for len(pr.entries) > pr.cap/2 {
			oldestPid := uint32(0)
			oldestAt := time.Time{}

			for pid, entry := range pr.entries {
				if oldestAt.IsZero() || entry.insertedAt.Before(oldestAt) {
					oldestPid = pid
					oldestAt = entry.insertedAt
				}
			}

			delete(pr.entries, oldestPid)
		}
	}

	pr.logger.Debugw("Process name cache cleanup done",
		"sizeBefore", sizeBefore,
		"sizeAfter", len(pr.entries))
}

// size returns the current entry count, for diagnostics and tests.
func (pr *processNameResolver) size() int {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	return len(pr.entries)
}
