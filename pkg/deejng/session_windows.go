package deejng

import (
	"fmt"
	"strings"

	"github.com/diegosz/go-wca/pkg/wca"
	"github.com/go-ole/go-ole"
	"github.com/mitchellh/go-ps"
	"go.uber.org/zap"
)

// wcaSession wraps a single WCA per-process audio session on the default
// render endpoint.
type wcaSession struct {
	logger   *zap.SugaredLogger
	eventCtx *ole.GUID

	pid         uint32
	processName string
	system      bool

	sessionID  string
	instanceID string

	control  *wca.IAudioSessionControl
	control2 *wca.IAudioSessionControl2
	volume   *wca.ISimpleAudioVolume
	meter    *wca.IAudioMeterInformation

	// keeps the registered native callback alive and unregisterable
	eventCallback *wca.IAudioSessionEvents
}

// masterSession wraps an audio device's endpoint volume. Used for the default
// render/capture endpoints and for per-device friendly-name targets.
type masterSession struct {
	logger   *zap.SugaredLogger
	eventCtx *ole.GUID

	volume *wca.IAudioEndpointVolume
	meter  *wca.IAudioMeterInformation

	// the addressable name (friendly device name, lowercased)
	key string

	// the device's endpoint id, unique per device instance
	endpointID string
}

const systemSessionName = "system sounds"

func newWCASession(
	logger *zap.SugaredLogger,
	control *wca.IAudioSessionControl,
	control2 *wca.IAudioSessionControl2,
	volume *wca.ISimpleAudioVolume,
	meter *wca.IAudioMeterInformation,
	pid uint32,
	eventCtx *ole.GUID,
) (*wcaSession, error) {
	s := &wcaSession{
		logger:   logger,
		eventCtx: eventCtx,
		pid:      pid,
		control:  control,
		control2: control2,
		volume:   volume,
		meter:    meter,
	}

	// special treatment for the system sounds session
	if control2.IsSystemSoundsSession() == nil {
		s.system = true
		s.processName = systemSessionName
	} else {
		process, err := ps.FindProcess(int(pid))
		if err != nil || process == nil {
			// this could just mean the process exited by now; the session
			// will be cleaned up later by the OS
			return nil, errNoSuchProcess
		}

		s.processName = process.Executable()
	}

	// the identifiers are unstable and occasionally opaque; they only serve
	// the resolver's substring fallback and diagnostics
	if err := control2.GetSessionIdentifier(&s.sessionID); err != nil {
		s.sessionID = ""
	}
	if err := control2.GetSessionInstanceIdentifier(&s.instanceID); err != nil {
		s.instanceID = ""
	}

	s.logger.Debugw("Created audio session instance",
		"session", s,
		"pid", pid)

	return s, nil
}

func (s *wcaSession) GetVolume() float32 {
	var level float32

	if err := s.volume.GetMasterVolume(&level); err != nil {
		s.logger.Warnw("Failed to get session volume", "session", s, "error", err)
	}

	return level
}

func (s *wcaSession) SetVolume(v float32) error {
	if err := s.volume.SetMasterVolume(v, s.eventCtx); err != nil {
		s.logger.Warnw("Failed to set session volume", "session", s, "error", err)
		return fmt.Errorf("adjust session volume: %w", err)
	}

	s.logger.Debugw("Adjusting session volume", "session", s, "to", fmt.Sprintf("%.2f", v))

	return nil
}

func (s *wcaSession) GetMute() bool {
	var muted bool

	if err := s.volume.GetMute(&muted); err != nil {
		s.logger.Warnw("Failed to get session mute state", "session", s, "error", err)
	}

	return muted
}

func (s *wcaSession) SetMute(m bool) error {
	if err := s.volume.SetMute(m, s.eventCtx); err != nil {
		s.logger.Warnw("Failed to set session mute state", "session", s, "error", err)
		return fmt.Errorf("adjust session mute: %w", err)
	}

	return nil
}

func (s *wcaSession) ReadPeak() float32 {
	if s.meter == nil {
		return 0
	}

	var peak float32
	if err := s.meter.GetPeakValue(&peak); err != nil {
		return 0
	}

	return peak
}

func (s *wcaSession) Key() string {
	return strings.ToLower(s.processName)
}

func (s *wcaSession) InternalKey() string {
	if s.instanceID != "" {
		return s.instanceID
	}

	return fmt.Sprintf("%s.%d", s.Key(), s.pid)
}

func (s *wcaSession) ProcessID() uint32 {
	if s.system {
		return 0
	}

	return s.pid
}

func (s *wcaSession) SessionID() string  { return s.sessionID }
func (s *wcaSession) InstanceID() string { return s.instanceID }

func (s *wcaSession) RegisterEvents(h SessionEvents) error {
	s.UnregisterEvents()

	callback := wca.IAudioSessionEventsCallback{
		OnSimpleVolumeChanged: func(newVolume float32, newMute bool) error {
			h.OnVolumeChanged(newVolume, newMute)
			return nil
		},
		OnStateChanged: func(newState wca.AudioSessionState) error {
			if newState == wca.AudioSessionStateExpired {
				h.OnStateExpired()
			}
			return nil
		},
		OnSessionDisconnected: func(reason wca.AudioSessionDisconnectReason) error {
			h.OnDisconnected(int(reason))
			return nil
		},
	}

	ase := wca.NewIAudioSessionEvents(callback)

	if err := s.control.RegisterAudioSessionNotification(ase); err != nil {
		return fmt.Errorf("register audio session notification: %w", err)
	}

	s.eventCallback = ase

	return nil
}

func (s *wcaSession) UnregisterEvents() {
	if s.eventCallback == nil {
		return
	}

	if err := s.control.UnregisterAudioSessionNotification(s.eventCallback); err != nil {
		s.logger.Debugw("Failed to unregister audio session notification",
			"session", s,
			"error", err)
	}

	s.eventCallback = nil
}

func (s *wcaSession) Release() {
	s.logger.Debugw("Releasing audio session", "session", s)

	s.UnregisterEvents()

	if s.meter != nil {
		s.meter.Release()
	}
	s.volume.Release()
	s.control2.Release()
	s.control.Release()
}

func (s *wcaSession) String() string {
	return fmt.Sprintf("<session: %s, pid: %d>", s.processName, s.pid)
}

func newMasterSession(
	logger *zap.SugaredLogger,
	volume *wca.IAudioEndpointVolume,
	meter *wca.IAudioMeterInformation,
	eventCtx *ole.GUID,
	key string,
	endpointID string,
) (*masterSession, error) {
	s := &masterSession{
		logger:     logger,
		eventCtx:   eventCtx,
		volume:     volume,
		meter:      meter,
		key:        strings.ToLower(key),
		endpointID: endpointID,
	}

	s.logger.Debugw("Created master session instance", "session", s)

	return s, nil
}

func (s *masterSession) GetVolume() float32 {
	var level float32

	if err := s.volume.GetMasterVolumeLevelScalar(&level); err != nil {
		s.logger.Warnw("Failed to get master volume", "session", s, "error", err)
	}

	return level
}

func (s *masterSession) SetVolume(v float32) error {
	if err := s.volume.SetMasterVolumeLevelScalar(v, s.eventCtx); err != nil {
		s.logger.Warnw("Failed to set master volume", "session", s, "error", err)
		return fmt.Errorf("adjust master volume: %w", err)
	}

	return nil
}

func (s *masterSession) GetMute() bool {
	var muted bool

	if err := s.volume.GetMute(&muted); err != nil {
		s.logger.Warnw("Failed to get master mute state", "session", s, "error", err)
	}

	return muted
}

func (s *masterSession) SetMute(m bool) error {
	if err := s.volume.SetMute(m, s.eventCtx); err != nil {
		s.logger.Warnw("Failed to set master mute state", "session", s, "error", err)
		return fmt.Errorf("adjust master mute: %w", err)
	}

	return nil
}

func (s *masterSession) ReadPeak() float32 {
	if s.meter == nil {
		return 0
	}

	var peak float32
	if err := s.meter.GetPeakValue(&peak); err != nil {
		return 0
	}

	return peak
}

func (s *masterSession) Key() string         { return s.key }
func (s *masterSession) InternalKey() string { return s.endpointID }
func (s *masterSession) ProcessID() uint32   { return 0 }
func (s *masterSession) SessionID() string   { return "" }
func (s *masterSession) InstanceID() string  { return "" }

// device master volumes have no per-session lifecycle callbacks; their
// staleness is handled by the cache's refresh sweeps
func (s *masterSession) RegisterEvents(SessionEvents) error { return nil }
func (s *masterSession) UnregisterEvents()                  {}

func (s *masterSession) Release() {
	s.logger.Debugw("Releasing master session", "session", s)

	if s.meter != nil {
		s.meter.Release()
	}
	s.volume.Release()
}

func (s *masterSession) String() string {
	return fmt.Sprintf("<master session: %s>", s.key)
}
