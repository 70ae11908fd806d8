package deejng

import "errors"

// Engine error kinds. OS-call failures are converted into one of these at the
// point of the call, logged, and absorbed; none of them propagate as panics
// and every public operation has a defined no-op / not-found / false outcome.
var (
	// ErrResolutionMiss indicates a target has no currently matching audio
	// session. This is a normal result, not a failure.
	ErrResolutionMiss = errors.New("no audio session matches target")

	// ErrStaleHandle indicates a previously cached session handle no longer
	// accepts writes, usually because its process exited or the OS reclaimed
	// the session. Recovered by evicting the cache entry.
	ErrStaleHandle = errors.New("cached session handle is stale")

	// ErrProcessLookup indicates a process id could not be resolved to an
	// executable name. Recovered by caching an empty result.
	ErrProcessLookup = errors.New("process name lookup failed")

	// ErrEnumerationFailed indicates the OS session enumeration itself failed,
	// e.g. no default device is present. The sweep is treated as yielding zero
	// sessions; later calls retry on their own schedule.
	ErrEnumerationFailed = errors.New("audio session enumeration failed")

	errNoSuchProcess = errors.New("process exited before session creation")
)
