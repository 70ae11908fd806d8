package deejng

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

type paSessionFinder struct {
	logger        *zap.SugaredLogger
	sessionLogger *zap.SugaredLogger

	client *proto.Client
	conn   net.Conn

	// per-sink-input event handlers, fed by the pulseaudio subscription
	handlerLock sync.Mutex
	handlers    map[uint32]SessionEvents
}

func newSessionFinder(logger *zap.SugaredLogger) (SessionFinder, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("deejng"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		return nil, err
	}

	sf := &paSessionFinder{
		logger:        logger.Named("session_finder"),
		sessionLogger: logger.Named("sessions"),
		client:        client,
		conn:          conn,
		handlers:      make(map[uint32]SessionEvents),
	}

	// subscribe to sink input events so registered sessions get their
	// volume-change and removal callbacks
	if err := client.Request(&proto.Subscribe{Mask: proto.SubscriptionMaskSinkInput}, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe to PulseAudio sink input events: %w", err)
	}

	client.Callback = func(msg interface{}) {
		switch msg := msg.(type) {
		case *proto.SubscribeEvent:
			if msg.Event&proto.EventFacilityMask == proto.EventSinkSinkInput {
				sf.handleSinkInputEvent(msg)
			}
		}
	}

	sf.logger.Debug("Created PA session finder instance")

	return sf, nil
}

func (sf *paSessionFinder) GetAllSessions() ([]Session, error) {
	sessions := []Session{}

	request := proto.GetSinkInputInfoList{}
	reply := proto.GetSinkInputInfoListReply{}

	if err := sf.client.Request(&request, &reply); err != nil {
		sf.logger.Warnw("Failed to get sink input list", "error", err)
		return nil, fmt.Errorf("get sink input list: %w", err)
	}

	for _, info := range reply {
		name, ok := info.Properties["application.process.binary"]
		if !ok {
			sf.logger.Warnw("Failed to get sink input's process name",
				"sinkInputIndex", info.SinkInputIndex)

			continue
		}

		// not all streams carry a pid; those simply skip the process name
		// resolver and match by binary name only
		var pid uint32
		if pidProp, ok := info.Properties["application.process.id"]; ok {
			if parsed, err := strconv.Atoi(pidProp.String()); err == nil {
				pid = uint32(parsed)
			}
		}

		newSession := newPASession(sf.sessionLogger, sf.client,
			info.SinkInputIndex, info.Channels, name.String(), pid,
			sf.registerHandler, sf.unregisterHandler)

		sessions = append(sessions, newSession)
	}

	return sessions, nil
}

func (sf *paSessionFinder) GetDefaultRenderSession() (Session, error) {
	request := proto.GetSinkInfo{SinkIndex: proto.Undefined}
	reply := proto.GetSinkInfoReply{}

	if err := sf.client.Request(&request, &reply); err != nil {
		sf.logger.Warnw("Failed to get master sink info", "error", err)
		return nil, fmt.Errorf("get master sink info: %w", err)
	}

	return newPAMasterSession(sf.sessionLogger, sf.client, reply.SinkIndex, reply.Channels, true), nil
}

func (sf *paSessionFinder) GetDefaultCaptureSession() (Session, error) {
	request := proto.GetSourceInfo{SourceIndex: proto.Undefined}
	reply := proto.GetSourceInfoReply{}

	if err := sf.client.Request(&request, &reply); err != nil {
		sf.logger.Warnw("Failed to get master source info", "error", err)
		return nil, fmt.Errorf("get master source info: %w", err)
	}

	return newPAMasterSession(sf.sessionLogger, sf.client, reply.SourceIndex, reply.Channels, false), nil
}

func (sf *paSessionFinder) Release() error {
	if err := sf.conn.Close(); err != nil {
		sf.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}

	sf.logger.Debug("Released PA session finder instance")

	return nil
}

func (sf *paSessionFinder) registerHandler(sinkInputIndex uint32, h SessionEvents) {
	sf.handlerLock.Lock()
	defer sf.handlerLock.Unlock()

	sf.handlers[sinkInputIndex] = h
}

func (sf *paSessionFinder) unregisterHandler(sinkInputIndex uint32) {
	sf.handlerLock.Lock()
	defer sf.handlerLock.Unlock()

	delete(sf.handlers, sinkInputIndex)
}

func (sf *paSessionFinder) lookupHandler(sinkInputIndex uint32) (SessionEvents, bool) {
	sf.handlerLock.Lock()
	defer sf.handlerLock.Unlock()

	h, ok := sf.handlers[sinkInputIndex]
	return h, ok
}

func (sf *paSessionFinder) handleSinkInputEvent(msg *proto.SubscribeEvent) {
	handler, ok := sf.lookupHandler(msg.Index)
	if !ok {
		return
	}

	switch msg.Event.GetType() {
	case proto.EventChange:
		request := proto.GetSinkInputInfo{SinkInputIndex: msg.Index}
		reply := proto.GetSinkInputInfoReply{}

		if err := sf.client.Request(&request, &reply); err != nil {
			sf.logger.Warnw("Failed to get sink input info for change event",
				"sinkInputIndex", msg.Index,
				"error", err)
			return
		}

		handler.OnVolumeChanged(averageChannelVolume(reply.ChannelVolumes), reply.Muted)

	case proto.EventRemove:
		handler.OnDisconnected(0)
		sf.unregisterHandler(msg.Index)
	}
}
