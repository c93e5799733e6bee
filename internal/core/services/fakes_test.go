package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"skillhub/internal/core/domain"
	"skillhub/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/mock"
)

type emitted struct {
	name    string
	payload interface{}
}

type fakeSignaler struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (f *fakeSignaler) Emit(_ context.Context, name string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, emitted{name: name, payload: payload})
	return nil
}

func (f *fakeSignaler) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		names = append(names, ev.name)
	}
	return names
}

func (f *fakeSignaler) last(name string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].name == name {
			return f.events[i].payload, true
		}
	}
	return nil, false
}

type fakeTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() string                    { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType     { return t.kind }
func (t *fakeTrack) Enabled() bool                 { return t.enabled }
func (t *fakeTrack) SetEnabled(enabled bool)       { t.enabled = enabled }
func (t *fakeTrack) TrackLocal() webrtc.TrackLocal { return nil }
func (t *fakeTrack) Stop()                         { t.stopped = true }

type fakeStream struct {
	video   *fakeTrack
	audio   *fakeTrack
	stopped bool
}

func (s *fakeStream) Tracks() []ports.LocalTrack {
	var tracks []ports.LocalTrack
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

func (s *fakeStream) VideoTrack() ports.LocalTrack {
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *fakeStream) AudioTrack() ports.LocalTrack {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *fakeStream) Stop() {
	s.stopped = true
	for _, track := range s.Tracks() {
		track.Stop()
	}
}

type fakeMedia struct {
	err         error
	streams     []*fakeStream
	constraints []ports.MediaConstraints
}

func (m *fakeMedia) GetUserMedia(_ context.Context, c ports.MediaConstraints) (ports.LocalStream, error) {
	m.constraints = append(m.constraints, c)
	if m.err != nil {
		return nil, m.err
	}
	if !c.Video && !c.Audio {
		return nil, domain.ErrNoMediaRequested
	}
	stream := &fakeStream{}
	if c.Video {
		stream.video = &fakeTrack{id: "video", kind: webrtc.RTPCodecTypeVideo, enabled: true}
	}
	if c.Audio {
		stream.audio = &fakeTrack{id: "audio", kind: webrtc.RTPCodecTypeAudio, enabled: true}
	}
	m.streams = append(m.streams, stream)
	return stream, nil
}

func (m *fakeMedia) allStopped() bool {
	for _, s := range m.streams {
		if !s.stopped {
			return false
		}
	}
	return true
}

type fakeRemoteStream struct {
	tracks []ports.RemoteTrack
}

func (r *fakeRemoteStream) Tracks() []ports.RemoteTrack { return r.tracks }

type fakePeer struct {
	handlers   ports.PeerChannelHandlers
	tracks     []ports.LocalTrack
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	remote     *fakeRemoteStream
	closed     bool

	offerErr  error
	answerErr error
	remoteErr error
	iceErr    error
}

func (p *fakePeer) AddTrack(track ports.LocalTrack) error {
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePeer) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePeer) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	if p.answerErr != nil {
		return webrtc.SessionDescription{}, p.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remoteDesc = &desc
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	if p.iceErr != nil {
		return p.iceErr
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) RemoteStream() ports.RemoteStream { return p.remote }

func (p *fakePeer) Close() error {
	p.closed = true
	return nil
}

type fakePeerFactory struct {
	peers     []*fakePeer
	err       error
	configure func(p *fakePeer)
}

func (f *fakePeerFactory) NewPeerChannel(h ports.PeerChannelHandlers) (ports.PeerChannel, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{handlers: h, remote: &fakeRemoteStream{}}
	if f.configure != nil {
		f.configure(p)
	}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeerFactory) last() *fakePeer {
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func (f *fakePeerFactory) allClosed() bool {
	for _, p := range f.peers {
		if !p.closed {
			return false
		}
	}
	return true
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (n *recordingNotifier) Notify(level domain.NotificationLevel, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, domain.Notification{Level: level, Text: text})
}

func (n *recordingNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, note.Text)
	}
	return out
}

type MockSessionMetrics struct {
	mock.Mock
}

func (m *MockSessionMetrics) MessageReceived()  { m.Called() }
func (m *MockSessionMetrics) DuplicateDropped() { m.Called() }
func (m *MockSessionMetrics) MessageSent()      { m.Called() }
func (m *MockSessionMetrics) CallStarted(direction domain.CallDirection) {
	m.Called(direction)
}
func (m *MockSessionMetrics) CallEnded(reachedActive bool, duration time.Duration) {
	m.Called(reachedActive, duration)
}
func (m *MockSessionMetrics) ICECandidateDropped()        { m.Called() }
func (m *MockSessionMetrics) SignalingError(stage string) { m.Called(stage) }

type MockHistoryFetcher struct {
	mock.Mock
}

func (m *MockHistoryFetcher) FetchHistory(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

type fakeChannel struct {
	mu        sync.Mutex
	events    chan domain.Event
	emitted   []emitted
	connected bool
	closes    int
	emitErr   error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan domain.Event, 16), connected: true}
}

func (c *fakeChannel) Emit(_ context.Context, name string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	if !c.connected {
		return domain.ErrChannelClosed
	}
	c.emitted = append(c.emitted, emitted{name: name, payload: payload})
	return nil
}

func (c *fakeChannel) Events() <-chan domain.Event { return c.events }

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.connected = false
	return nil
}

// drop simulates the relay going away.
func (c *fakeChannel) drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	close(c.events)
}

func (c *fakeChannel) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.emitted))
	for _, ev := range c.emitted {
		names = append(names, ev.name)
	}
	return names
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeDialer struct {
	channel *fakeChannel
	err     error
	userID  domain.UserID
}

func (d *fakeDialer) Dial(_ context.Context, _ string, userID domain.UserID) (ports.EventChannel, error) {
	d.userID = userID
	if d.err != nil {
		return nil, d.err
	}
	return d.channel, nil
}

var errDevice = errors.New("permission denied")
