package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"skillhub/internal/core/domain"
	"skillhub/internal/core/ports"
	apperrors "skillhub/pkg/errors"
	"skillhub/pkg/tracing"
	"skillhub/pkg/validation"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	msgConnected      = "Connected to chat server"
	msgDisconnected   = "Disconnected from chat server"
	msgHistoryFailed  = "Failed to load chat history"
	msgMessageSent    = "Message sent!"
	msgSendFailed     = "Failed to send message"
	callbackQueueSize = 64
)

type SessionConfig struct {
	ServerAddress     string
	HistoryTimeout    time.Duration
	ConnectTimeout    time.Duration
	MaxMessageLength  int
	MessagesPerSecond float64
	Burst             int
	VideoEnabled      bool
	AudioEnabled      bool
	TickInterval      time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		HistoryTimeout:    10 * time.Second,
		ConnectTimeout:    20 * time.Second,
		MaxMessageLength:  2000,
		MessagesPerSecond: 5,
		Burst:             10,
		VideoEnabled:      true,
		AudioEnabled:      true,
		TickInterval:      time.Second,
	}
}

type SessionDeps struct {
	Dialer   ports.EventDialer
	History  ports.HistoryFetcher
	Media    ports.MediaDevices
	Peers    ports.PeerChannelFactory
	Notifier ports.Notifier
	Metrics  ports.SessionMetrics
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

// Snapshot is a consistent copy of session state taken between handlers.
type Snapshot struct {
	Self      domain.User      `json:"self"`
	Peer      domain.User      `json:"peer"`
	RoomID    domain.RoomID    `json:"room_id"`
	Connected bool             `json:"connected"`
	Loading   bool             `json:"loading"`
	Messages  []domain.Message `json:"messages"`
	Call      domain.CallState `json:"call"`
	Closed    bool             `json:"closed"`
}

// Session owns one chat view: the relay channel, the transcript and the call.
// All state is mutated on the goroutine running Run; other goroutines reach
// it through the intent methods.
type Session struct {
	cfg    SessionConfig
	deps   SessionDeps
	self   domain.User
	peer   domain.User
	roomID domain.RoomID

	channel    ports.EventChannel
	events     <-chan domain.Event
	transcript *Transcript
	call       *CallMachine
	limiter    *rate.Limiter
	ticker     *time.Ticker

	intents   chan func()
	callbacks chan func()

	lifecycle    sync.Mutex
	running      bool
	closed       bool
	quit         chan struct{}
	done         chan struct{}
	stopped      chan struct{}
	closeOnce    sync.Once
	shutdownOnce sync.Once

	snapMu   sync.RWMutex
	snapshot Snapshot
	updates  chan struct{}
}

func NewSession(cfg SessionConfig, deps SessionDeps, self, peer domain.User) *Session {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultSessionConfig().MaxMessageLength
	}

	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	s := &Session{
		cfg:        cfg,
		deps:       deps,
		self:       self,
		peer:       peer,
		roomID:     domain.NewRoomID(self.ID, peer.ID),
		transcript: NewTranscript(),
		limiter:    rate.NewLimiter(limit, burst),
		intents:    make(chan func()),
		callbacks:  make(chan func(), callbackQueueSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		updates:    make(chan struct{}, 1),
	}
	s.transcript.now = deps.Now
	s.deps.Logger = deps.Logger.With("room_id", s.roomID)

	s.call = NewCallMachine(CallConfig{
		Self:         self,
		Peer:         peer,
		RoomID:       s.roomID,
		VideoEnabled: cfg.VideoEnabled,
		AudioEnabled: cfg.AudioEnabled,
	}, CallDeps{
		Signaler:   signalerFunc(s.emit),
		Media:      deps.Media,
		Peers:      deps.Peers,
		Transcript: s.transcript,
		Notifier:   deps.Notifier,
		Metrics:    deps.Metrics,
		Logger:     s.deps.Logger,
		Schedule:   s.schedule,
		Now:        deps.Now,
	})

	s.publish()
	return s
}

type signalerFunc func(ctx context.Context, name string, payload interface{}) error

func (f signalerFunc) Emit(ctx context.Context, name string, payload interface{}) error {
	return f(ctx, name, payload)
}

func (s *Session) RoomID() domain.RoomID {
	return s.roomID
}

// Open seeds the transcript and connects to the relay. A failed history
// fetch seeds a welcome record; a failed connection leaves the session
// usable read-only and is returned as a ConnectivityError.
func (s *Session) Open(ctx context.Context) error {
	if err := validation.ValidateRoomID(string(s.roomID)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	s.seed(ctx)
	defer s.publish()

	if s.deps.Dialer == nil {
		return apperrors.NewConnectivityError("no relay configured", domain.ErrChannelClosed)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	channel, err := s.deps.Dialer.Dial(dialCtx, s.cfg.ServerAddress, s.self.ID)
	if err != nil {
		s.deps.Logger.Errorw("failed to connect to relay", "address", s.cfg.ServerAddress, "error", err)
		s.deps.Notifier.Notify(domain.NotifyError, fmt.Sprintf("Failed to join chat: %v", err))
		return apperrors.NewConnectivityError("failed to connect to relay", err)
	}
	s.channel = channel
	s.events = channel.Events()

	s.deps.Notifier.Notify(domain.NotifySuccess, msgConnected)

	join := domain.JoinRoomPayload{RoomID: s.roomID, UserID: s.self.ID}
	if err := s.emit(ctx, domain.EventJoinRoom, join); err != nil {
		s.deps.Logger.Errorw("failed to join room", "error", err)
		return err
	}
	s.deps.Logger.Infow("joining room", "user_id", s.self.ID)
	return nil
}

func (s *Session) seed(ctx context.Context) {
	if s.deps.History == nil {
		s.transcript.Seed(nil, s.peer.Name)
		return
	}

	historyCtx, cancel := context.WithTimeout(ctx, s.cfg.HistoryTimeout)
	defer cancel()

	history, err := s.deps.History.FetchHistory(historyCtx, s.roomID)
	if err != nil {
		s.deps.Logger.Warnw("failed to fetch history", "error", err)
		s.deps.Notifier.Notify(domain.NotifyError, msgHistoryFailed)
		history = nil
	}
	s.transcript.Seed(history, s.peer.Name)
	s.deps.Logger.Debugw("transcript seeded", "messages", s.transcript.Len())
}

// Run processes relay events, intents, peer callbacks and call ticks until
// ctx is cancelled or Close is called. The session is shut down on return.
func (s *Session) Run(ctx context.Context) error {
	s.lifecycle.Lock()
	if s.closed || s.running {
		s.lifecycle.Unlock()
		return domain.ErrSessionClosed
	}
	s.running = true
	s.lifecycle.Unlock()
	defer close(s.stopped)

	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()

		case <-s.quit:
			s.shutdown()
			return nil

		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				s.onChannelLost()
			} else {
				s.Dispatch(ev)
			}

		case fn := <-s.intents:
			fn()

		case fn := <-s.callbacks:
			fn()

		case now := <-tick:
			s.call.Tick(now)
		}

		s.syncTicker()
		s.publish()
	}
}

// Dispatch applies one relay event. It must run on the session goroutine.
func (s *Session) Dispatch(ev domain.Event) {
	log := s.deps.Logger.With("event", ev.Name)

	switch ev.Name {
	case domain.EventRoomJoined:
		var p domain.JoinRoomPayload
		_ = ev.Decode(&p)
		log.Infow("joined room", "user_id", p.UserID)

	case domain.EventMessageSent:
		var p domain.MessageSentPayload
		_ = ev.Decode(&p)
		log.Debugw("message sent", "message_id", p.MessageID, "success", p.Success)

	case domain.EventMessageError:
		var p domain.ErrorPayload
		_ = ev.Decode(&p)
		log.Warnw("message error", "error", p.Error, "details", string(p.Details))
		s.deps.Notifier.Notify(domain.NotifyError, fmt.Sprintf("Message failed: %s", p.Error))

	case domain.EventJoinRoomError:
		var p domain.ErrorPayload
		_ = ev.Decode(&p)
		log.Warnw("join room error", "error", p.Error, "details", string(p.Details))
		s.deps.Notifier.Notify(domain.NotifyError, fmt.Sprintf("Failed to join chat: %s", p.Error))

	case domain.EventReceiveMessage:
		var p domain.MessagePayload
		if err := ev.Decode(&p); err != nil {
			log.Warnw("malformed message", "error", err)
			return
		}
		if s.transcript.Append(p.ToMessage(s.deps.Now())) {
			s.deps.Metrics.MessageReceived()
		} else {
			s.deps.Metrics.DuplicateDropped()
			log.Debugw("duplicate message dropped", "message_id", p.ID)
		}

	case domain.EventIncomingVideoCall:
		var p domain.IncomingCallPayload
		if err := ev.Decode(&p); err != nil {
			log.Warnw("malformed call offer", "error", err)
			return
		}
		s.call.OnRemoteOffer(p)

	case domain.EventVideoCallAccepted:
		var p domain.CallAcceptedPayload
		if err := ev.Decode(&p); err != nil {
			log.Warnw("malformed call answer", "error", err)
			return
		}
		s.call.OnRemoteAnswer(p)

	case domain.EventVideoCallDeclined:
		var p domain.CallNoticePayload
		_ = ev.Decode(&p)
		s.call.OnRemoteDeclined(p)

	case domain.EventVideoCallEnded:
		var p domain.CallNoticePayload
		_ = ev.Decode(&p)
		s.call.OnRemoteEnded(p)

	case domain.EventICECandidate:
		var p domain.ICECandidatePayload
		if err := ev.Decode(&p); err != nil {
			log.Warnw("malformed ice candidate", "error", err)
			return
		}
		s.call.OnRemoteICE(p)

	default:
		log.Debugw("ignoring unknown event")
	}
}

func (s *Session) onChannelLost() {
	s.deps.Logger.Warnw("relay connection lost")
	s.deps.Notifier.Notify(domain.NotifyError, msgDisconnected)
}

// syncTicker runs the duration ticker only while the call is active.
func (s *Session) syncTicker() {
	active := s.call.Phase() == domain.CallActive
	switch {
	case active && s.ticker == nil:
		s.ticker = time.NewTicker(s.cfg.TickInterval)
	case !active && s.ticker != nil:
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) emit(ctx context.Context, name string, payload interface{}) error {
	if s.channel == nil || !s.channel.Connected() {
		return domain.ErrChannelClosed
	}

	ctx, span := tracing.TraceRelayEvent(ctx, name, string(s.roomID))
	defer span.End()

	if err := s.channel.Emit(ctx, name, payload); err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewConnectivityError(fmt.Sprintf("failed to emit %s", name), err)
	}
	return nil
}

// schedule queues a peer channel callback for the session goroutine.
func (s *Session) schedule(fn func()) {
	select {
	case s.callbacks <- fn:
	case <-s.done:
	}
}

// do runs fn on the session goroutine and returns its result.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context) error) error {
	errc := make(chan error, 1)
	task := func() { errc <- fn(ctx) }

	select {
	case s.intents <- task:
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// SendMessage emits a chat message. The transcript is updated only when the
// relay echoes the message back.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.sendMessage(ctx, text)
	})
}

func (s *Session) sendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return domain.ErrEmptyMessage
	case s.peer.ID == "":
		return domain.ErrNoPeer
	case s.channel == nil || !s.channel.Connected():
		return domain.ErrChannelClosed
	}

	if err := validation.ValidateMessageText(text, s.cfg.MaxMessageLength); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if !s.limiter.Allow() {
		return domain.ErrRateLimited
	}

	payload := domain.SendMessagePayload{
		Sender:     s.self.ID,
		SenderName: s.self.Name,
		Receiver:   s.peer.ID,
		Message:    text,
		RoomID:     s.roomID,
	}
	if err := s.emit(ctx, domain.EventSendMessage, payload); err != nil {
		s.deps.Logger.Warnw("failed to send message", "error", err)
		s.deps.Notifier.Notify(domain.NotifyError, msgSendFailed)
		return err
	}

	s.deps.Metrics.MessageSent()
	s.deps.Notifier.Notify(domain.NotifySuccess, msgMessageSent)
	return nil
}

func (s *Session) StartCall(ctx context.Context) error {
	return s.do(ctx, s.call.Initiate)
}

func (s *Session) AcceptCall(ctx context.Context) error {
	return s.do(ctx, s.call.Accept)
}

func (s *Session) DeclineCall(ctx context.Context) error {
	return s.do(ctx, s.call.Decline)
}

func (s *Session) EndCall(ctx context.Context) error {
	return s.do(ctx, s.call.Hangup)
}

func (s *Session) ToggleVideo(ctx context.Context) error {
	return s.do(ctx, func(context.Context) error { return s.call.ToggleVideo() })
}

func (s *Session) ToggleAudio(ctx context.Context) error {
	return s.do(ctx, func(context.Context) error { return s.call.ToggleAudio() })
}

func (s *Session) ToggleFullscreen(ctx context.Context) error {
	return s.do(ctx, func(context.Context) error {
		s.call.ToggleFullscreen()
		return nil
	})
}

// Close tears down any call and closes the relay channel exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.lifecycle.Lock()
		s.closed = true
		running := s.running
		s.lifecycle.Unlock()

		close(s.quit)
		if running {
			<-s.stopped
			return
		}
		s.shutdown()
	})
	return nil
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.done)

		if err := s.call.Hangup(context.Background()); err != nil {
			s.deps.Logger.Debugw("hangup during shutdown", "error", err)
		}
		if s.ticker != nil {
			s.ticker.Stop()
			s.ticker = nil
		}
		if s.channel != nil {
			if err := s.channel.Close(); err != nil {
				s.deps.Logger.Warnw("failed to close relay channel", "error", err)
			}
		}
		s.deps.Logger.Infow("session closed")
		s.publish()
	})
}

func (s *Session) publish() {
	snap := Snapshot{
		Self:      s.self,
		Peer:      s.peer,
		RoomID:    s.roomID,
		Connected: s.channel != nil && s.channel.Connected(),
		Loading:   s.transcript.Loading(),
		Messages:  s.transcript.Messages(),
		Call:      s.call.State(),
	}
	select {
	case <-s.done:
		snap.Closed = true
	default:
	}

	s.snapMu.Lock()
	s.snapshot = snap
	s.snapMu.Unlock()

	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Snapshot returns the state published after the last handled message.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapshot
}

// Updates signals, coalesced, that a new snapshot is available.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}
