package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"skillhub/internal/core/domain"
	apperrors "skillhub/pkg/errors"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sessionFixture struct {
	session *Session
	channel *fakeChannel
	dialer  *fakeDialer
	history *MockHistoryFetcher
	media   *fakeMedia
	peers   *fakePeerFactory
	notes   *recordingNotifier
}

func newSessionFixture(t *testing.T, cfg SessionConfig) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		channel: newFakeChannel(),
		history: &MockHistoryFetcher{},
		media:   &fakeMedia{},
		peers:   &fakePeerFactory{},
		notes:   &recordingNotifier{},
	}
	f.dialer = &fakeDialer{channel: f.channel}
	f.session = NewSession(cfg, SessionDeps{
		Dialer:   f.dialer,
		History:  f.history,
		Media:    f.media,
		Peers:    f.peers,
		Notifier: f.notes,
		Logger:   zaptest.NewLogger(t).Sugar(),
	}, alice, bob)
	return f
}

// run opens the session and starts its loop; the loop is stopped on cleanup.
func (f *sessionFixture) run(t *testing.T) {
	t.Helper()
	f.history.On("FetchHistory", mock.Anything, domain.RoomID("u1_u2")).Return([]domain.Message{}, nil).Maybe()
	require.NoError(t, f.session.Open(context.Background()))

	errc := make(chan error, 1)
	go func() { errc <- f.session.Run(context.Background()) }()
	t.Cleanup(func() {
		require.NoError(t, f.session.Close())
		require.NoError(t, <-errc)
	})
}

func event(t *testing.T, name string, payload interface{}) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(name, payload)
	require.NoError(t, err)
	return ev
}

func (f *sessionFixture) waitFor(t *testing.T, cond func(Snapshot) bool) {
	t.Helper()
	assert.Eventually(t, func() bool { return cond(f.session.Snapshot()) }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_OpenJoinsRoom(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.history.On("FetchHistory", mock.Anything, domain.RoomID("u1_u2")).Return([]domain.Message{
		{ID: "m1", Sender: "u1", Text: "hi"},
		{ID: "m2", Sender: "u2", Text: "hello"},
	}, nil).Once()

	require.NoError(t, f.session.Open(context.Background()))

	assert.Equal(t, alice.ID, f.dialer.userID)
	require.Equal(t, []string{domain.EventJoinRoom}, f.channel.names())
	assert.Equal(t, domain.JoinRoomPayload{RoomID: "u1_u2", UserID: alice.ID}, f.channel.emitted[0].payload)
	assert.Contains(t, f.notes.texts(), msgConnected)

	snap := f.session.Snapshot()
	assert.True(t, snap.Connected)
	assert.False(t, snap.Loading)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	f.history.AssertExpectations(t)
}

func TestSession_EmptyHistorySeedsWelcome(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.history.On("FetchHistory", mock.Anything, domain.RoomID("u1_u2")).Return([]domain.Message{}, nil).Once()

	require.NoError(t, f.session.Open(context.Background()))

	snap := f.session.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.True(t, snap.Messages[0].IsSystem)
	assert.Contains(t, snap.Messages[0].Text, "Bob")
}

func TestSession_HistoryFailureDegradesToWelcome(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.history.On("FetchHistory", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	require.NoError(t, f.session.Open(context.Background()))

	snap := f.session.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, domain.WelcomeMessageID, snap.Messages[0].ID)
	assert.Contains(t, f.notes.texts(), msgHistoryFailed)
}

func TestSession_HistoryFetchIsBounded(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.HistoryTimeout = 20 * time.Millisecond
	f := newSessionFixture(t, cfg)
	f.history.On("FetchHistory", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	require.NoError(t, f.session.Open(context.Background()))

	assert.Len(t, f.session.Snapshot().Messages, 1)
}

func TestSession_DialFailureIsDegraded(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.dialer.err = errors.New("connection refused")
	f.history.On("FetchHistory", mock.Anything, mock.Anything).Return([]domain.Message{}, nil)

	err := f.session.Open(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConnectivity))
	assert.Len(t, f.session.Snapshot().Messages, 1)
	assert.False(t, f.session.Snapshot().Connected)

	errc := make(chan error, 1)
	go func() { errc <- f.session.Run(context.Background()) }()

	assert.ErrorIs(t, f.session.SendMessage(context.Background(), "hello"), domain.ErrChannelClosed)
	require.NoError(t, f.session.Close())
	require.NoError(t, <-errc)
}

func TestSession_ReceiveMessageDeduplicates(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.run(t)

	msg := domain.MessagePayload{ID: "m1", Sender: bob.ID, SenderName: "Bob", Receiver: alice.ID, Message: "hey"}
	for i := 0; i < 3; i++ {
		f.channel.events <- event(t, domain.EventReceiveMessage, msg)
	}
	f.channel.events <- event(t, domain.EventReceiveMessage, domain.MessagePayload{ID: "m2", Sender: bob.ID, Message: "again"})

	f.waitFor(t, func(s Snapshot) bool { return len(s.Messages) == 3 })

	seen := map[string]int{}
	for _, m := range f.session.Snapshot().Messages {
		seen[m.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %s stored more than once", id)
	}
}

func TestSession_SendMessage(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.run(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.session.SendMessage(ctx, "   "), domain.ErrEmptyMessage)
	require.NoError(t, f.session.SendMessage(ctx, "  hello bob  "))

	names := f.channel.names()
	require.Equal(t, []string{domain.EventJoinRoom, domain.EventSendMessage}, names)
	assert.Equal(t, domain.SendMessagePayload{
		Sender:     alice.ID,
		SenderName: "Alice",
		Receiver:   bob.ID,
		Message:    "hello bob",
		RoomID:     "u1_u2",
	}, f.channel.emitted[1].payload)
	assert.Contains(t, f.notes.texts(), msgMessageSent)

	// Not inserted until the relay echoes it.
	assert.Len(t, f.session.Snapshot().Messages, 1)
}

func TestSession_SendMessageValidation(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.MaxMessageLength = 5
	f := newSessionFixture(t, cfg)
	f.run(t)

	err := f.session.SendMessage(context.Background(), "too long for five")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
	assert.Equal(t, []string{domain.EventJoinRoom}, f.channel.names())
}

func TestSession_SendMessageRateLimited(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.MessagesPerSecond = 0.001
	cfg.Burst = 2
	f := newSessionFixture(t, cfg)
	f.run(t)
	ctx := context.Background()

	require.NoError(t, f.session.SendMessage(ctx, "one"))
	require.NoError(t, f.session.SendMessage(ctx, "two"))
	assert.ErrorIs(t, f.session.SendMessage(ctx, "three"), domain.ErrRateLimited)
}

func TestSession_SendMessageWithoutPeer(t *testing.T) {
	s := NewSession(DefaultSessionConfig(), SessionDeps{Dialer: &fakeDialer{channel: newFakeChannel()}}, alice, domain.User{})
	require.NoError(t, s.Open(context.Background()))
	go func() { _ = s.Run(context.Background()) }()
	defer s.Close()

	assert.ErrorIs(t, s.SendMessage(context.Background(), "hi"), domain.ErrNoPeer)
}

func TestSession_ErrorEventsNotify(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.run(t)

	f.channel.events <- event(t, domain.EventMessageError, domain.ErrorPayload{Error: "blocked", Details: json.RawMessage(`"spam"`)})
	f.channel.events <- event(t, domain.EventJoinRoomError, domain.ErrorPayload{Error: "room full"})
	f.channel.events <- domain.Event{Name: "somethingElse", Data: json.RawMessage(`{}`)}

	assert.Eventually(t, func() bool {
		texts := f.notes.texts()
		return contains(texts, "Message failed: blocked") && contains(texts, "Failed to join chat: room full")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_IncomingCallAcceptAndTick(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.TickInterval = 5 * time.Millisecond
	f := newSessionFixture(t, cfg)
	f.session.deps.Now = func() time.Time { return time.Now().Add(-3 * time.Second) }
	f.session.call.deps.Now = f.session.deps.Now
	f.run(t)
	ctx := context.Background()

	f.channel.events <- event(t, domain.EventIncomingVideoCall, domain.StartCallPayload{
		To: alice.ID, From: bob.ID, FromName: "Bob", RoomID: "u1_u2",
		Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"},
	})
	f.waitFor(t, func(s Snapshot) bool { return s.Call.Phase == domain.CallIncomingPending })
	assert.Equal(t, "Bob", f.session.Snapshot().Call.CallerName)

	require.NoError(t, f.session.AcceptCall(ctx))
	assert.Contains(t, f.channel.names(), domain.EventAcceptVideoCall)

	f.waitFor(t, func(s Snapshot) bool { return s.Call.ElapsedSeconds >= 3 })
	snap := f.session.Snapshot()
	assert.True(t, snap.Call.HasLocalMedia)
	assert.True(t, snap.Call.HasRemoteMedia)

	require.NoError(t, f.session.ToggleFullscreen(ctx))
	assert.True(t, f.session.Snapshot().Call.Fullscreen)

	f.channel.events <- event(t, domain.EventVideoCallEnded, domain.CallNoticePayload{From: bob.ID})
	f.waitFor(t, func(s Snapshot) bool { return s.Call.Phase == domain.CallIdle })

	snap = f.session.Snapshot()
	assert.Zero(t, snap.Call.ElapsedSeconds)
	assert.False(t, snap.Call.Fullscreen)
	assert.Equal(t, domain.CallEndedText, snap.Messages[len(snap.Messages)-1].Text)
}

func TestSession_EarlyICECandidatesDropped(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.run(t)

	for i := 0; i < 3; i++ {
		f.channel.events <- event(t, domain.EventICECandidate, domain.ICECandidatePayload{
			Candidate: &webrtc.ICECandidateInit{Candidate: "candidate"},
			From:      bob.ID,
		})
	}
	require.NoError(t, f.session.ToggleFullscreen(context.Background()))

	assert.Equal(t, domain.CallIdle, f.session.Snapshot().Call.Phase)
	assert.Empty(t, f.peers.peers)
}

func TestSession_CloseTearsDownCallOnce(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.history.On("FetchHistory", mock.Anything, mock.Anything).Return([]domain.Message{}, nil)
	require.NoError(t, f.session.Open(context.Background()))

	errc := make(chan error, 1)
	go func() { errc <- f.session.Run(context.Background()) }()

	require.NoError(t, f.session.StartCall(context.Background()))
	assert.Equal(t, domain.CallOutgoingPending, f.session.Snapshot().Call.Phase)

	require.NoError(t, f.session.Close())
	require.NoError(t, f.session.Close())
	require.NoError(t, <-errc)

	names := f.channel.names()
	assert.Equal(t, domain.EventEndVideoCall, names[len(names)-1])
	assert.Equal(t, 1, f.channel.closeCount())
	assert.True(t, f.media.allStopped())
	assert.True(t, f.peers.allClosed())
	assert.True(t, f.session.Snapshot().Closed)

	assert.ErrorIs(t, f.session.StartCall(context.Background()), domain.ErrSessionClosed)
}

func TestSession_CloseWithoutRun(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.history.On("FetchHistory", mock.Anything, mock.Anything).Return([]domain.Message{}, nil)
	require.NoError(t, f.session.Open(context.Background()))

	require.NoError(t, f.session.Close())

	assert.Equal(t, 1, f.channel.closeCount())
	assert.ErrorIs(t, f.session.Run(context.Background()), domain.ErrSessionClosed)
}

func TestSession_RunStopsOnContextCancel(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.history.On("FetchHistory", mock.Anything, mock.Anything).Return([]domain.Message{}, nil)
	require.NoError(t, f.session.Open(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.session.Run(ctx) }()
	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 1, f.channel.closeCount())
	require.NoError(t, f.session.Close())
	assert.Equal(t, 1, f.channel.closeCount())
}

func TestSession_ChannelLost(t *testing.T) {
	f := newSessionFixture(t, DefaultSessionConfig())
	f.run(t)

	f.channel.drop()

	f.waitFor(t, func(s Snapshot) bool { return !s.Connected })
	assert.Eventually(t, func() bool { return contains(f.notes.texts(), msgDisconnected) }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.session.SendMessage(context.Background(), "hi"), domain.ErrChannelClosed)
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
