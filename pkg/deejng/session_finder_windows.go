package deejng

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/diegosz/go-wca/pkg/wca"
	"github.com/go-ole/go-ole"
	"go.uber.org/zap"
)

type wcaSessionFinder struct {
	logger        *zap.SugaredLogger
	sessionLogger *zap.SugaredLogger

	eventCtx *ole.GUID // needed for some session actions to successfully notify other audio consumers

	mmDeviceEnumerator *wca.IMMDeviceEnumerator
}

const randomGUID = "{1ec920a1-7db8-44ba-9779-e5d28ed9f330}"

func newSessionFinder(logger *zap.SugaredLogger) (SessionFinder, error) {
	sf := &wcaSessionFinder{
		logger:        logger.Named("session_finder"),
		sessionLogger: logger.Named("sessions"),
		eventCtx:      ole.NewGUID(randomGUID),
	}

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// E_FALSE means that the call was redundant.
		const eFalse = 1
		oleError := &ole.OleError{}

		if errors.As(err, &oleError) {
			if oleError.Code() == eFalse {
				sf.logger.Warn("CoInitializeEx failed with E_FALSE due to redundant invocation")
			} else {
				sf.logger.Warnw("Failed to call CoInitializeEx",
					"isOleError", true,
					"error", err,
					"oleError", oleError)

				return nil, fmt.Errorf("call CoInitializeEx: %w", err)
			}
		} else {
			sf.logger.Warnw("Failed to call CoInitializeEx",
				"isOleError", false,
				"error", err,
				"oleError", nil)

			return nil, fmt.Errorf("call CoInitializeEx: %w", err)
		}
	}

	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&sf.mmDeviceEnumerator,
	); err != nil {
		sf.logger.Warnw("Failed to call CoCreateInstance", "error", err)
		return nil, fmt.Errorf("call CoCreateInstance: %w", err)
	}

	sf.logger.Debug("Created WCA session finder instance")
	return sf, nil
}

// GetAllSessions enumerates the per-process sessions on the default render
// endpoint, then adds a master session per active device (input and output)
// addressable by the device's friendly name.
func (sf *wcaSessionFinder) GetAllSessions() ([]Session, error) {
	var sessions []Session

	defaultRender, err := sf.getDefaultEndpoint(wca.ERender)
	if err != nil {
		sf.logger.Warnw("Failed to get default render endpoint", "error", err)
		return nil, fmt.Errorf("get default render endpoint: %w", err)
	}
	defer defaultRender.Release()

	if err := sf.enumerateAndAddProcessSessions(defaultRender, &sessions); err != nil {
		sf.logger.Warnw("Failed to enumerate default render endpoint sessions", "error", err)
		return nil, fmt.Errorf("enumerate default render endpoint sessions: %w", err)
	}

	if err := sf.enumerateAndAddDeviceSessions(&sessions); err != nil {
		sf.logger.Warnw("Failed to enumerate device sessions", "error", err)
		return nil, fmt.Errorf("enumerate device sessions: %w", err)
	}

	return sessions, nil
}

// GetDefaultRenderSession returns a fresh master-volume handle for the
// default output device, keyed by the system sentinel name.
func (sf *wcaSessionFinder) GetDefaultRenderSession() (Session, error) {
	endpoint, err := sf.getDefaultEndpoint(wca.ERender)
	if err != nil {
		return nil, fmt.Errorf("get default render endpoint: %w", err)
	}
	defer endpoint.Release()

	return sf.getMasterSession(endpoint, systemTargetName)
}

// GetDefaultCaptureSession returns a fresh master-volume handle for the
// default input device. Fails when no microphone is connected.
func (sf *wcaSessionFinder) GetDefaultCaptureSession() (Session, error) {
	endpoint, err := sf.getDefaultEndpoint(wca.ECapture)
	if err != nil {
		return nil, fmt.Errorf("get default capture endpoint: %w", err)
	}
	defer endpoint.Release()

	return sf.getMasterSession(endpoint, inputDeviceTargetName)
}

func (sf *wcaSessionFinder) Release() error {
	if sf.mmDeviceEnumerator != nil {
		sf.mmDeviceEnumerator.Release()
	}

	ole.CoUninitialize()

	sf.logger.Debug("Released WCA session finder instance")
	return nil
}

func (sf *wcaSessionFinder) getDefaultEndpoint(dataFlow wca.EDataFlow) (*wca.IMMDevice, error) {
	var endpoint *wca.IMMDevice

	if err := sf.mmDeviceEnumerator.GetDefaultAudioEndpoint(dataFlow, wca.EConsole, &endpoint); err != nil {
		return nil, fmt.Errorf("call GetDefaultAudioEndpoint: %w", err)
	}

	return endpoint, nil
}

func (sf *wcaSessionFinder) getMasterSession(endpoint *wca.IMMDevice, key string) (*masterSession, error) {
	var audioEndpointVolume *wca.IAudioEndpointVolume

	if err := endpoint.Activate(wca.IID_IAudioEndpointVolume, wca.CLSCTX_ALL, nil, &audioEndpointVolume); err != nil {
		sf.logger.Warnw("Failed to activate AudioEndpointVolume for master session", "error", err)
		return nil, fmt.Errorf("activate master session: %w", err)
	}

	// the meter is best-effort; a device without one still gets a session
	var meter *wca.IAudioMeterInformation
	if err := endpoint.Activate(wca.IID_IAudioMeterInformation, wca.CLSCTX_ALL, nil, &meter); err != nil {
		meter = nil
	}

	var endpointID string
	if err := endpoint.GetId(&endpointID); err != nil {
		sf.logger.Warnw("Failed to get endpointID of master session", "error", err)
		audioEndpointVolume.Release()
		return nil, fmt.Errorf("get master endpointID: %w", err)
	}

	master, err := newMasterSession(sf.sessionLogger, audioEndpointVolume, meter, sf.eventCtx, key, endpointID)
	if err != nil {
		sf.logger.Warnw("Failed to create master session instance", "error", err)
		return nil, fmt.Errorf("create master session: %w", err)
	}

	return master, nil
}

// enumerateAndAddDeviceSessions makes every active device's master volume
// bindable by the device's friendly name (as it appears when the user
// left-clicks the speaker icon in the tray).
func (sf *wcaSessionFinder) enumerateAndAddDeviceSessions(sessions *[]Session) error {
	var deviceCollection *wca.IMMDeviceCollection

	if err := sf.mmDeviceEnumerator.EnumAudioEndpoints(wca.EAll, wca.DEVICE_STATE_ACTIVE, &deviceCollection); err != nil {
		sf.logger.Warnw("Failed to enumerate active audio endpoints", "error", err)
		return fmt.Errorf("enumerate active audio endpoints: %w", err)
	}

	var deviceCount uint32

	if err := deviceCollection.GetCount(&deviceCount); err != nil {
		sf.logger.Warnw("Failed to get device count from device collection", "error", err)
		return fmt.Errorf("get device count from device collection: %w", err)
	}

	for deviceIdx := uint32(0); deviceIdx < deviceCount; deviceIdx++ {
		err := func() error {
			var endpoint *wca.IMMDevice

			if err := deviceCollection.Item(deviceIdx, &endpoint); err != nil {
				sf.logger.Warnw("Failed to get device from device collection",
					"deviceIdx", deviceIdx,
					"error", err)

				return fmt.Errorf("get device %d from device collection: %w", deviceIdx, err)
			}
			defer endpoint.Release()

			endpointFriendlyName, err := sf.getEndpointFriendlyName(endpoint)
			if err != nil {
				return err
			}

			newDeviceSession, err := sf.getMasterSession(endpoint, endpointFriendlyName)
			if err != nil {
				sf.logger.Warnw("Failed to get master session for device",
					"deviceIdx", deviceIdx,
					"error", err)

				return fmt.Errorf("get device %d master session: %w", deviceIdx, err)
			}

			*sessions = append(*sessions, newDeviceSession)

			return nil
		}()
		if err != nil {
			return err
		}
	}

	return nil
}

func (sf *wcaSessionFinder) getEndpointFriendlyName(endpoint *wca.IMMDevice) (string, error) {
	var propertyStore *wca.IPropertyStore

	if err := endpoint.OpenPropertyStore(wca.STGM_READ, &propertyStore); err != nil {
		sf.logger.Warnw("Failed to open property store for endpoint", "error", err)
		return "", fmt.Errorf("open endpoint property store: %w", err)
	}
	defer propertyStore.Release()

	value := &wca.PROPVARIANT{}

	if err := propertyStore.GetValue(&wca.PKEY_Device_FriendlyName, value); err != nil {
		sf.logger.Warnw("Failed to get friendly name for device", "error", err)
		return "", fmt.Errorf("get device friendly name: %w", err)
	}

	// device friendly name i.e. "Headphones (Realtek Audio)"
	return value.String(), nil
}

func (sf *wcaSessionFinder) enumerateAndAddProcessSessions(endpoint *wca.IMMDevice, sessions *[]Session) error {
	sf.logger.Debug("Enumerating and adding process sessions for the default render endpoint")

	var audioSessionManager2 *wca.IAudioSessionManager2

	if err := endpoint.Activate(
		wca.IID_IAudioSessionManager2,
		wca.CLSCTX_ALL,
		nil,
		&audioSessionManager2,
	); err != nil {
		sf.logger.Warnw("Failed to activate endpoint as IAudioSessionManager2", "error", err)
		return fmt.Errorf("activate endpoint: %w", err)
	}
	defer audioSessionManager2.Release()

	var sessionEnumerator *wca.IAudioSessionEnumerator

	if err := audioSessionManager2.GetSessionEnumerator(&sessionEnumerator); err != nil {
		return err
	}
	defer sessionEnumerator.Release()

	var sessionCount int
	if err := sessionEnumerator.GetCount(&sessionCount); err != nil {
		sf.logger.Warnw("Failed to get session count from session enumerator", "error", err)
		return fmt.Errorf("get session count: %w", err)
	}

	sf.logger.Debugw("Got session count from session enumerator", "count", sessionCount)

	for sessionIdx := 0; sessionIdx < sessionCount; sessionIdx++ {
		var audioSessionControl *wca.IAudioSessionControl
		if err := sessionEnumerator.GetSession(sessionIdx, &audioSessionControl); err != nil {
			sf.logger.Warnw("Failed to get session from session enumerator",
				"error", err,
				"sessionIdx", sessionIdx)

			return fmt.Errorf("get session %d from enumerator: %w", sessionIdx, err)
		}

		newSession, err := sf.processNewSession(audioSessionControl)
		if err != nil {
			if !errors.Is(err, errNoSuchProcess) {
				sf.logger.Warnw("Failed to process a new session", "error", err, "sessionIdx", sessionIdx)
			}
			continue
		}

		*sessions = append(*sessions, newSession)
	}

	return nil
}

func (sf *wcaSessionFinder) processNewSession(audioSessionControl *wca.IAudioSessionControl) (*wcaSession, error) {
	audioSessionControl.AddRef()

	// query its IAudioSessionControl2
	dispatch, err := audioSessionControl.QueryInterface(wca.IID_IAudioSessionControl2)
	if err != nil {
		sf.logger.Warnw("Failed to query session's IAudioSessionControl2", "error", err)

		audioSessionControl.Release()
		return nil, err
	}

	// receive a useful object instead of our dispatch
	audioSessionControl2 := (*wca.IAudioSessionControl2)(unsafe.Pointer(dispatch))

	var pid uint32

	// get the session's PID
	if err := audioSessionControl2.GetProcessId(&pid); err != nil {
		// if this is the system sounds session, GetProcessId will error with
		// an undocumented AUDCLNT_S_NO_CURRENT_PROCESS (0x889000D) - this is
		// fine, we actually want to treat it a bit differently. the first
		// part of this condition is true if the IsSystemSoundsSession call
		// fails, the second if the original error doesn't carry that magical
		// error code (in decimal format). UWP applications hit the same path
		// with a usable pid, so the pid is not overridden.
		isSystemSoundsErr := audioSessionControl2.IsSystemSoundsSession()
		if isSystemSoundsErr != nil && !strings.Contains(err.Error(), "143196173") {
			sf.logger.Warnw("Failed to query session's pid",
				"error", err,
				"isSystemSoundsError", isSystemSoundsErr)

			audioSessionControl.Release()
			audioSessionControl2.Release()
			return nil, err
		}
	}

	// get its ISimpleAudioVolume
	dispatch, err = audioSessionControl2.QueryInterface(wca.IID_ISimpleAudioVolume)
	if err != nil {
		sf.logger.Warnw("Failed to query session's ISimpleAudioVolume", "error", err)

		audioSessionControl.Release()
		audioSessionControl2.Release()
		return nil, err
	}

	simpleAudioVolume := (*wca.ISimpleAudioVolume)(unsafe.Pointer(dispatch))

	// the peak meter is best-effort
	var meter *wca.IAudioMeterInformation
	if dispatch, err = audioSessionControl.QueryInterface(wca.IID_IAudioMeterInformation); err == nil {
		meter = (*wca.IAudioMeterInformation)(unsafe.Pointer(dispatch))
	}

	newSession, err := newWCASession(sf.sessionLogger, audioSessionControl, audioSessionControl2,
		simpleAudioVolume, meter, pid, sf.eventCtx)
	if err != nil {
		// this could just mean this process is already closed by now, and
		// the session will be cleaned up later by the OS
		if !errors.Is(err, errNoSuchProcess) {
			sf.logger.Warnw("Failed to create new WCA session instance", "error", err)
		} else {
			sf.logger.Debugw("Process already exited, skipping session and releasing handles", "pid", pid)
		}

		if meter != nil {
			meter.Release()
		}
		simpleAudioVolume.Release()
		audioSessionControl2.Release()
		audioSessionControl.Release()

		return nil, err
	}

	return newSession, nil
}
