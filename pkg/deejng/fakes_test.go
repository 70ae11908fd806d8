package deejng

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-ps"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// testProcessNames returns a resolver whose OS lookups always miss, so
// session names fall back to the session's own key.
func testProcessNames() *processNameResolver {
	pr := newProcessNameResolver(testLogger())
	pr.findProcess = func(int) (ps.Process, error) { return nil, errors.New("no such process") }
	pr.listProcesses = func() ([]ps.Process, error) { return nil, nil }

	return pr
}

// newTestEngine builds a full engine over fakes, with OS process lookups
// stubbed out.
func newTestEngine(finder SessionFinder, ttl time.Duration) *Engine {
	engine, err := NewEngine(testLogger(), finder, EngineParams{SessionRefreshInterval: ttl})
	if err != nil {
		panic(err)
	}

	engine.procNames.findProcess = func(int) (ps.Process, error) { return nil, errors.New("no such process") }
	engine.procNames.listProcesses = func() ([]ps.Process, error) { return nil, nil }

	return engine
}

// fakeSession is an in-memory Session double.
type fakeSession struct {
	lock sync.Mutex

	name       string
	pid        uint32
	sessionID  string
	instanceID string

	volume float32
	muted  bool

	// when set, every write fails as if the handle went stale
	failWrites bool

	released      bool
	volumeWrites  int
	muteWrites    int
	handler       SessionEvents
	registerCalls int
}

func newFakeSession(name string, pid uint32) *fakeSession {
	return &fakeSession{name: name, pid: pid}
}

func (s *fakeSession) GetVolume() float32 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.volume
}

func (s *fakeSession) SetVolume(v float32) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.failWrites {
		return errors.New("stale handle")
	}

	s.volume = v
	s.volumeWrites++
	return nil
}

func (s *fakeSession) GetMute() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.muted
}

func (s *fakeSession) SetMute(m bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.failWrites {
		return errors.New("stale handle")
	}

	s.muted = m
	s.muteWrites++
	return nil
}

func (s *fakeSession) ReadPeak() float32 { return 0 }

func (s *fakeSession) Key() string {
	return strings.ToLower(s.name)
}

func (s *fakeSession) InternalKey() string {
	return fmt.Sprintf("%s.%d", s.Key(), s.pid)
}

func (s *fakeSession) ProcessID() uint32  { return s.pid }
func (s *fakeSession) SessionID() string  { return s.sessionID }
func (s *fakeSession) InstanceID() string { return s.instanceID }

func (s *fakeSession) RegisterEvents(h SessionEvents) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.handler = h
	s.registerCalls++
	return nil
}

func (s *fakeSession) UnregisterEvents() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.handler = nil
}

func (s *fakeSession) Release() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.released = true
}

func (s *fakeSession) isReleased() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.released
}

func (s *fakeSession) events() SessionEvents {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.handler
}

func (s *fakeSession) markStale() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.failWrites = true
}

// fakeSessionFinder is an in-memory SessionFinder double. GetAllSessions
// hands out fresh fakeSession copies each call, like a real enumeration does.
type fakeSessionFinder struct {
	lock sync.Mutex

	// blueprint sessions: (name, pid, sessionID, instanceID) tuples that
	// each enumeration stamps new handles from
	blueprints []*fakeSession

	master  *fakeSession
	capture *fakeSession

	enumerations    int
	renderRequests  int
	captureRequests int
	enumerateErr    error

	// every handle handed out, newest last
	handedOut []*fakeSession
}

func newFakeSessionFinder(blueprints ...*fakeSession) *fakeSessionFinder {
	return &fakeSessionFinder{
		blueprints: blueprints,
		master:     newFakeSession(systemTargetName, 0),
		capture:    newFakeSession(inputDeviceTargetName, 0),
	}
}

func (f *fakeSessionFinder) setSessions(blueprints ...*fakeSession) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.blueprints = blueprints
}

func (f *fakeSessionFinder) GetAllSessions() ([]Session, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.enumerations++

	if f.enumerateErr != nil {
		return nil, f.enumerateErr
	}

	sessions := make([]Session, 0, len(f.blueprints))

	for _, blueprint := range f.blueprints {
		handle := newFakeSession(blueprint.name, blueprint.pid)
		handle.sessionID = blueprint.sessionID
		handle.instanceID = blueprint.instanceID
		handle.volume = blueprint.volume
		handle.muted = blueprint.muted
		handle.failWrites = blueprint.failWrites

		f.handedOut = append(f.handedOut, handle)
		sessions = append(sessions, handle)
	}

	return sessions, nil
}

func (f *fakeSessionFinder) GetDefaultRenderSession() (Session, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.renderRequests++

	if f.master == nil {
		return nil, errors.New("no default render device")
	}

	return f.master, nil
}

func (f *fakeSessionFinder) GetDefaultCaptureSession() (Session, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.captureRequests++

	if f.capture == nil {
		return nil, errors.New("no default capture device")
	}

	return f.capture, nil
}

func (f *fakeSessionFinder) Release() error { return nil }

// handles returns every session handle handed out so far, oldest first.
func (f *fakeSessionFinder) handles() []*fakeSession {
	f.lock.Lock()
	defer f.lock.Unlock()

	return append([]*fakeSession(nil), f.handedOut...)
}

// lastHandleFor returns the newest handed-out handle with the given name.
func (f *fakeSessionFinder) lastHandleFor(name string) *fakeSession {
	f.lock.Lock()
	defer f.lock.Unlock()

	for i := len(f.handedOut) - 1; i >= 0; i-- {
		if f.handedOut[i].name == name {
			return f.handedOut[i]
		}
	}

	return nil
}

func (f *fakeSessionFinder) enumerationCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.enumerations
}

func (f *fakeSessionFinder) renderSessionRequests() int {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.renderRequests
}

func (f *fakeSessionFinder) captureSessionRequests() int {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.captureRequests
}

// fakeControl is an in-memory Control double.
type fakeControl struct {
	lock sync.Mutex

	muted         []bool
	expiredCount  int
	disconnCount  int
	currentVolume float32
}

func (c *fakeControl) SetMuted(muted bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.muted = append(c.muted, muted)
}

func (c *fakeControl) HandleSessionExpired() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.expiredCount++
}

func (c *fakeControl) HandleSessionDisconnected() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.disconnCount++
}

func (c *fakeControl) CurrentVolume() float32 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.currentVolume
}

func (c *fakeControl) mutedCalls() []bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]bool(nil), c.muted...)
}

func (c *fakeControl) expired() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.expiredCount
}

func (c *fakeControl) disconnected() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.disconnCount
}
