package deejng

import (
	"sync"

	"go.uber.org/zap"
)

type routedEventKind int

const (
	eventVolumeChanged routedEventKind = iota
	eventStateExpired
	eventDisconnected
)

type routedEvent struct {
	kind routedEventKind

	// only the normalized target name is captured at subscription time -
	// never the control, which may be reassigned before the event arrives
	name string

	muted bool

	// diagnostics only; the control contract mirrors the mute flag, never
	// the level, so level is carried for logging alone
	level  float32
	pid    uint32
	reason int
}

// eventRouter delivers OS-originated session callbacks to whichever control
// currently represents the session's target. Callbacks arrive on arbitrary
// OS threads; the router marshals them onto one single-consumer dispatch
// goroutine, and only that goroutine touches the registry or controls. Events
// are delivered in fire order per session; no ordering is guaranteed across
// sessions.
type eventRouter struct {
	logger   *zap.SugaredLogger
	registry *ControlRegistry
	cache    *sessionCache

	events chan routedEvent
	stop   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}

	// secondary disconnect notification, letting the owner release the
	// subscription itself
	onSessionGone func(name string)
}

// subscription adapts a single session's callbacks into routed events.
// It holds no reference to any control.
type subscription struct {
	router *eventRouter
	name   string
	pid    uint32
}

func newEventRouter(logger *zap.SugaredLogger, registry *ControlRegistry,
	cache *sessionCache) *eventRouter {
	return &eventRouter{
		logger:   logger.Named("router"),
		registry: registry,
		cache:    cache,
		events:   make(chan routedEvent, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the dispatch goroutine. Safe to call more than once.
func (er *eventRouter) Start() {
	er.startOnce.Do(func() {
		go er.dispatchLoop()
		er.logger.Debug("Event router started")
	})
}

// Stop terminates the dispatch goroutine and waits for it to drain.
func (er *eventRouter) Stop() {
	er.stopOnce.Do(func() {
		close(er.stop)
		<-er.done
		er.logger.Debug("Event router stopped")
	})
}

// Subscribe registers for the session's events under its normalized target
// name. Called once per resolved target, right after resolution.
func (er *eventRouter) Subscribe(name string, session Session) {
	sub := &subscription{
		router: er,
		name:   name,
		pid:    session.ProcessID(),
	}

	if err := session.RegisterEvents(sub); err != nil {
		// non-fatal: the session stays controllable, just without
		// externally-originated state mirroring
		er.logger.Warnw("Failed to register session event callbacks",
			"name", name,
			"pid", sub.pid,
			"error", err)
		return
	}

	er.logger.Debugw("Subscribed to session events", "name", name, "pid", sub.pid)
}

func (er *eventRouter) dispatchLoop() {
	defer close(er.done)

	for {
		select {
		case event := <-er.events:
			er.deliver(event)
		case <-er.stop:
			return
		}
	}
}

// deliver resolves the event's target name against the current mapping and
// notifies the control, if any. An unassigned name means the event is simply
// dropped - not an error.
func (er *eventRouter) deliver(event routedEvent) {
	control, ok := er.registry.Lookup(event.name)

	switch event.kind {
	case eventVolumeChanged:
		if ok {
			control.SetMuted(event.muted)

			er.logger.Debugw("Mirrored external volume change onto control",
				"name", event.name,
				"level", event.level,
				"muted", event.muted)
		}

	case eventStateExpired:
		// no cache action: if the session truly vanished the next refresh
		// sweep evicts it
		if ok {
			control.HandleSessionExpired()
		}

	case eventDisconnected:
		if ok {
			control.HandleSessionDisconnected()
		}

		// the handle is known-dead, no need to wait for a sweep
		er.cache.Invalidate(event.name)

		if er.onSessionGone != nil {
			er.onSessionGone(event.name)
		}

		er.logger.Debugw("Session disconnected",
			"name", event.name,
			"pid", event.pid,
			"reason", event.reason)
	}
}

// send enqueues an event from an OS callback thread. The OS audio subsystem
// penalizes slow callbacks, so on a full queue the event is dropped rather
// than blocked on.
func (er *eventRouter) send(event routedEvent) {
	select {
	case er.events <- event:
	default:
		er.logger.Warnw("Event queue full, dropping session event",
			"name", event.name,
			"kind", event.kind)
	}
}

func (s *subscription) OnVolumeChanged(level float32, muted bool) {
	s.router.send(routedEvent{
		kind:  eventVolumeChanged,
		name:  s.name,
		pid:   s.pid,
		level: level,
		muted: muted,
	})
}

func (s *subscription) OnStateExpired() {
	s.router.send(routedEvent{kind: eventStateExpired, name: s.name, pid: s.pid})
}

func (s *subscription) OnDisconnected(reason int) {
	s.router.send(routedEvent{
		kind:   eventDisconnected,
		name:   s.name,
		pid:    s.pid,
		reason: reason,
	})
}
