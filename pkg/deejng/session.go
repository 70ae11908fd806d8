package deejng

// Session represents a single addressable audio session: either a per-process
// stream on the default render endpoint or a device's master volume.
type Session interface {
	GetVolume() float32
	SetVolume(v float32) error

	GetMute() bool
	SetMute(m bool) error

	// ReadPeak returns the session's current peak meter level in [0.0, 1.0].
	// Returns 0.0 when the platform exposes no meter for this session.
	ReadPeak() float32

	// Key returns the session's normalized addressable name: the lowercased
	// process executable name, or a device's friendly name.
	Key() string

	// InternalKey uniquely identifies the underlying OS session instance,
	// unlike Key which collides across same-named processes.
	InternalKey() string

	// ProcessID returns the owning process id, or 0 for device sessions and
	// the system sounds session.
	ProcessID() uint32

	// SessionID and InstanceID return the OS-provided session identifier
	// strings. These are unstable and sometimes opaque; the resolver only
	// uses them as a substring-matching fallback. Empty for device sessions.
	SessionID() string
	InstanceID() string

	// RegisterEvents subscribes h to this session's OS-fired callbacks.
	// At most one handler may be registered per session; registering again
	// replaces the previous handler.
	RegisterEvents(h SessionEvents) error

	// UnregisterEvents drops the registered handler, if any.
	UnregisterEvents()

	Release()
}

// SessionEvents receives OS-originated callbacks for a single session.
// Implementations must not assume any particular calling goroutine: the OS
// fires these on its own threads.
type SessionEvents interface {
	// OnVolumeChanged fires when the session's volume or mute state changed,
	// whether by us or by any other audio consumer.
	OnVolumeChanged(level float32, muted bool)

	// OnStateExpired fires when the session entered the expired state.
	OnStateExpired()

	// OnDisconnected fires when the session was disconnected, with the
	// OS-provided reason code.
	OnDisconnected(reason int)
}

// SessionFinder is the boundary into the OS audio subsystem. Implementations
// are platform-specific; everything above it is portable.
//
// None of its calls are safe for concurrent use; the session cache serializes
// all access behind its own lock.
type SessionFinder interface {
	// GetAllSessions enumerates the per-process sessions on the default
	// render endpoint plus a master session per active device, addressable
	// by the device's friendly name.
	GetAllSessions() ([]Session, error)

	// GetDefaultRenderSession returns a fresh handle to the default output
	// device's master volume.
	GetDefaultRenderSession() (Session, error)

	// GetDefaultCaptureSession returns a fresh handle to the default input
	// device's master volume. May fail when no microphone is connected.
	GetDefaultCaptureSession() (Session, error)

	Release() error
}
