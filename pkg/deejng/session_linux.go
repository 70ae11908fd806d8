package deejng

import (
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

// normalized volume scale used by the pulseaudio protocol
const maxVolume = 0x10000

// paSession wraps a pulseaudio sink input (one application's stream).
type paSession struct {
	logger *zap.SugaredLogger
	client *proto.Client

	processName string
	pid         uint32

	sinkInputIndex    uint32
	sinkInputChannels byte

	// lets the finder route subscription events for this sink input
	registerHandler   func(sinkInputIndex uint32, h SessionEvents)
	unregisterHandler func(sinkInputIndex uint32)
}

// paMasterSession wraps the master sink (output) or source (input) volume.
type paMasterSession struct {
	logger *zap.SugaredLogger
	client *proto.Client

	key      string
	index    uint32
	channels byte
	isOutput bool
}

func newPASession(
	logger *zap.SugaredLogger,
	client *proto.Client,
	sinkInputIndex uint32,
	sinkInputChannels byte,
	processName string,
	pid uint32,
	registerHandler func(uint32, SessionEvents),
	unregisterHandler func(uint32),
) *paSession {
	s := &paSession{
		logger:            logger,
		client:            client,
		processName:       processName,
		pid:               pid,
		sinkInputIndex:    sinkInputIndex,
		sinkInputChannels: sinkInputChannels,
		registerHandler:   registerHandler,
		unregisterHandler: unregisterHandler,
	}

	s.logger.Debugw("Created audio session instance", "session", s)

	return s
}

func createChannelVolumes(channels byte, volume float32) []uint32 {
	volumes := make([]uint32, channels)
	for i := range volumes {
		volumes[i] = uint32(volume * maxVolume)
	}

	return volumes
}

func (s *paSession) GetVolume() float32 {
	request := proto.GetSinkInputInfo{SinkInputIndex: s.sinkInputIndex}
	reply := proto.GetSinkInputInfoReply{}

	if err := s.client.Request(&request, &reply); err != nil {
		s.logger.Warnw("Failed to get session volume", "session", s, "error", err)
		return 0
	}

	return averageChannelVolume(reply.ChannelVolumes)
}

func (s *paSession) SetVolume(v float32) error {
	request := proto.SetSinkInputVolume{
		SinkInputIndex: s.sinkInputIndex,
		ChannelVolumes: createChannelVolumes(s.sinkInputChannels, v),
	}

	if err := s.client.Request(&request, nil); err != nil {
		s.logger.Warnw("Failed to set session volume", "session", s, "error", err)
		return fmt.Errorf("adjust session volume: %w", err)
	}

	s.logger.Debugw("Adjusting session volume", "session", s, "to", fmt.Sprintf("%.2f", v))

	return nil
}

func (s *paSession) GetMute() bool {
	request := proto.GetSinkInputInfo{SinkInputIndex: s.sinkInputIndex}
	reply := proto.GetSinkInputInfoReply{}

	if err := s.client.Request(&request, &reply); err != nil {
		s.logger.Warnw("Failed to get session mute state", "session", s, "error", err)
		return false
	}

	return reply.Muted
}

func (s *paSession) SetMute(m bool) error {
	request := proto.SetSinkInputMute{
		SinkInputIndex: s.sinkInputIndex,
		Mute:           m,
	}

	if err := s.client.Request(&request, nil); err != nil {
		s.logger.Warnw("Failed to set session mute state", "session", s, "error", err)
		return fmt.Errorf("adjust session mute: %w", err)
	}

	return nil
}

// pulseaudio peak reads require a dedicated record stream; not exposed here
func (s *paSession) ReadPeak() float32 { return 0 }

func (s *paSession) Key() string {
	return strings.ToLower(s.processName)
}

func (s *paSession) InternalKey() string {
	return fmt.Sprintf("%s.%d", s.Key(), s.sinkInputIndex)
}

func (s *paSession) ProcessID() uint32 { return s.pid }

// pulseaudio has no analogue of the WCA session identifier strings; the
// resolver's substring fallback simply never fires here
func (s *paSession) SessionID() string  { return "" }
func (s *paSession) InstanceID() string { return "" }

func (s *paSession) RegisterEvents(h SessionEvents) error {
	if s.registerHandler == nil {
		return fmt.Errorf("session finder does not support event registration")
	}

	s.registerHandler(s.sinkInputIndex, h)
	return nil
}

func (s *paSession) UnregisterEvents() {
	if s.unregisterHandler != nil {
		s.unregisterHandler(s.sinkInputIndex)
	}
}

func (s *paSession) Release() {
	s.logger.Debugw("Releasing audio session", "session", s)
	s.UnregisterEvents()
}

func (s *paSession) String() string {
	return fmt.Sprintf("<session: %s, sink input: %d>", s.processName, s.sinkInputIndex)
}

func newPAMasterSession(
	logger *zap.SugaredLogger,
	client *proto.Client,
	index uint32,
	channels byte,
	isOutput bool,
) *paMasterSession {
	key := systemTargetName
	if !isOutput {
		key = inputDeviceTargetName
	}

	s := &paMasterSession{
		logger:   logger,
		client:   client,
		key:      key,
		index:    index,
		channels: channels,
		isOutput: isOutput,
	}

	s.logger.Debugw("Created master session instance", "session", s)

	return s
}

func (s *paMasterSession) GetVolume() float32 {
	if s.isOutput {
		request := proto.GetSinkInfo{SinkIndex: s.index}
		reply := proto.GetSinkInfoReply{}

		if err := s.client.Request(&request, &reply); err != nil {
			s.logger.Warnw("Failed to get master volume", "session", s, "error", err)
			return 0
		}

		return averageChannelVolume(reply.ChannelVolumes)
	}

	request := proto.GetSourceInfo{SourceIndex: s.index}
	reply := proto.GetSourceInfoReply{}

	if err := s.client.Request(&request, &reply); err != nil {
		s.logger.Warnw("Failed to get master volume", "session", s, "error", err)
		return 0
	}

	return averageChannelVolume(reply.ChannelVolumes)
}

func (s *paMasterSession) SetVolume(v float32) error {
	var request proto.RequestArgs

	if s.isOutput {
		request = &proto.SetSinkVolume{
			SinkIndex:      s.index,
			ChannelVolumes: createChannelVolumes(s.channels, v),
		}
	} else {
		request = &proto.SetSourceVolume{
			SourceIndex:    s.index,
			ChannelVolumes: createChannelVolumes(s.channels, v),
		}
	}

	if err := s.client.Request(request, nil); err != nil {
		s.logger.Warnw("Failed to set master volume", "session", s, "error", err)
		return fmt.Errorf("adjust master volume: %w", err)
	}

	return nil
}

func (s *paMasterSession) GetMute() bool {
	if s.isOutput {
		request := proto.GetSinkInfo{SinkIndex: s.index}
		reply := proto.GetSinkInfoReply{}

		if err := s.client.Request(&request, &reply); err != nil {
			s.logger.Warnw("Failed to get master mute state", "session", s, "error", err)
			return false
		}

		return reply.Mute
	}

	request := proto.GetSourceInfo{SourceIndex: s.index}
	reply := proto.GetSourceInfoReply{}

	if err := s.client.Request(&request, &reply); err != nil {
		s.logger.Warnw("Failed to get master mute state", "session", s, "error", err)
		return false
	}

	return reply.Mute
}

func (s *paMasterSession) SetMute(m bool) error {
	var request proto.RequestArgs

	if s.isOutput {
		request = &proto.SetSinkMute{SinkIndex: s.index, Mute: m}
	} else {
		request = &proto.SetSourceMute{SourceIndex: s.index, Mute: m}
	}

	if err := s.client.Request(request, nil); err != nil {
		s.logger.Warnw("Failed to set master mute state", "session", s, "error", err)
		return fmt.Errorf("adjust master mute: %w", err)
	}

	return nil
}

func (s *paMasterSession) ReadPeak() float32 { return 0 }

func (s *paMasterSession) Key() string { return s.key }

func (s *paMasterSession) InternalKey() string {
	return fmt.Sprintf("%s.%d", s.key, s.index)
}

func (s *paMasterSession) ProcessID() uint32  { return 0 }
func (s *paMasterSession) SessionID() string  { return "" }
func (s *paMasterSession) InstanceID() string { return "" }

func (s *paMasterSession) RegisterEvents(SessionEvents) error { return nil }
func (s *paMasterSession) UnregisterEvents()                  {}

func (s *paMasterSession) Release() {
	s.logger.Debugw("Releasing master session", "session", s)
}

func (s *paMasterSession) String() string {
	return fmt.Sprintf("<master session: %s>", s.key)
}

func averageChannelVolume(volumes []uint32) float32 {
	if len(volumes) == 0 {
		return 0
	}

	var total uint64
	for _, volume := range volumes {
		total += uint64(volume)
	}

	return float32(total/uint64(len(volumes))) / maxVolume
}
