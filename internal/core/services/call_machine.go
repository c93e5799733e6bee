package services

import (
	"context"
	"fmt"
	"time"

	"skillhub/internal/core/domain"
	"skillhub/internal/core/ports"
	apperrors "skillhub/pkg/errors"
	"skillhub/pkg/tracing"
	"skillhub/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	msgStartCallFailed  = "Failed to start video call. Please check camera permissions."
	msgAcceptCallFailed = "Failed to accept call"
	msgCallConnected    = "Call connected!"
	msgCallDeclined     = "Call declined"
	msgCallEnded        = "Call ended"
)

type CallConfig struct {
	Self   domain.User
	Peer   domain.User
	RoomID domain.RoomID

	// Initial enablement flags used for the first media request.
	VideoEnabled bool
	AudioEnabled bool
}

type CallDeps struct {
	Signaler   ports.Signaler
	Media      ports.MediaDevices
	Peers      ports.PeerChannelFactory
	Transcript *Transcript
	Notifier   ports.Notifier
	Metrics    ports.SessionMetrics
	Logger     *zap.SugaredLogger

	// Schedule hands peer channel callbacks to the goroutine that owns the
	// machine. When nil callbacks run inline.
	Schedule func(fn func())
	Now      func() time.Time
}

// CallMachine sequences call negotiation for one room. It is owned by a
// single goroutine; peer channel callbacks re-enter through Schedule.
type CallMachine struct {
	cfg  CallConfig
	deps CallDeps

	phase      domain.CallPhase
	local      ports.LocalStream
	remote     ports.RemoteStream
	peer       ports.PeerChannel
	pending    *domain.PendingOffer
	generation uint64

	videoEnabled bool
	audioEnabled bool
	fullscreen   bool
	startedAt    time.Time
	elapsed      int
}

func NewCallMachine(cfg CallConfig, deps CallDeps) *CallMachine {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Schedule == nil {
		deps.Schedule = func(fn func()) { fn() }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &CallMachine{
		cfg:          cfg,
		deps:         deps,
		phase:        domain.CallIdle,
		videoEnabled: cfg.VideoEnabled,
		audioEnabled: cfg.AudioEnabled,
	}
}

func (m *CallMachine) Phase() domain.CallPhase {
	return m.phase
}

func (m *CallMachine) LocalStream() ports.LocalStream {
	return m.local
}

func (m *CallMachine) RemoteStream() ports.RemoteStream {
	return m.remote
}

func (m *CallMachine) PeerChannel() ports.PeerChannel {
	return m.peer
}

func (m *CallMachine) Pending() *domain.PendingOffer {
	return m.pending
}

func (m *CallMachine) State() domain.CallState {
	state := domain.CallState{
		Phase:          m.phase,
		PhaseName:      m.phase.String(),
		VideoEnabled:   m.videoEnabled,
		AudioEnabled:   m.audioEnabled,
		Fullscreen:     m.fullscreen,
		StartedAt:      m.startedAt,
		ElapsedSeconds: m.elapsed,
		HasLocalMedia:  m.local != nil,
		HasRemoteMedia: m.remote != nil,
		HasPeerChannel: m.peer != nil,
	}
	if m.pending != nil {
		state.CallerName = m.pending.FromName
	}
	return state
}

// Initiate acquires local media, builds a peer channel and sends an offer.
func (m *CallMachine) Initiate(ctx context.Context) error {
	if m.phase != domain.CallIdle {
		return fmt.Errorf("initiate call in phase %s: %w", m.phase, domain.ErrInvalidPhase)
	}

	ctx, span := tracing.TraceCall(ctx, "initiate", string(m.cfg.RoomID), string(m.cfg.Peer.ID))
	defer span.End()

	m.phase = domain.CallOutgoingPending

	err := m.prepare(ctx)
	if err == nil {
		err = m.offer(ctx)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		m.deps.Logger.Warnw("failed to start call", "room_id", m.cfg.RoomID, "peer_id", m.cfg.Peer.ID, "error", err)
		m.release()
		m.deps.Notifier.Notify(domain.NotifyError, msgStartCallFailed)
		return err
	}

	m.deps.Metrics.CallStarted(domain.DirectionOutgoing)
	m.deps.Logger.Infow("calling peer", "room_id", m.cfg.RoomID, "peer_id", m.cfg.Peer.ID)
	m.deps.Notifier.Notify(domain.NotifyInfo, fmt.Sprintf("Calling %s...", m.cfg.Peer.DisplayName()))
	return nil
}

func (m *CallMachine) offer(ctx context.Context) error {
	offer, err := m.peer.CreateOffer(ctx)
	if err != nil {
		m.deps.Metrics.SignalingError("offer")
		return apperrors.NewSignalingError("failed to create offer", err)
	}

	payload := domain.StartCallPayload{
		To:       m.cfg.Peer.ID,
		From:     m.cfg.Self.ID,
		FromName: m.cfg.Self.Name,
		Offer:    offer,
		RoomID:   m.cfg.RoomID,
	}
	if err := m.deps.Signaler.Emit(ctx, domain.EventStartVideoCall, payload); err != nil {
		return apperrors.NewConnectivityError("failed to send call offer", err)
	}
	return nil
}

// OnRemoteOffer buffers an incoming offer. Offers arriving outside Idle are ignored.
func (m *CallMachine) OnRemoteOffer(p domain.IncomingCallPayload) {
	if m.phase != domain.CallIdle {
		m.deps.Logger.Warnw("ignoring call offer while busy", "from", p.From, "phase", m.phase)
		return
	}
	if p.Offer == nil {
		m.deps.Logger.Warnw("ignoring call without offer", "from", p.From)
		return
	}

	roomID := p.RoomID
	if roomID == "" {
		roomID = m.cfg.RoomID
	}
	m.pending = &domain.PendingOffer{
		From:     p.From,
		FromName: p.FromName,
		RoomID:   roomID,
		Offer:    *p.Offer,
	}
	m.phase = domain.CallIncomingPending

	m.deps.Logger.Infow("incoming call", "room_id", roomID, "from", p.From)
	m.deps.Notifier.Notify(domain.NotifyInfo, fmt.Sprintf("Incoming video call from %s", p.FromName))
}

// Accept answers the buffered offer.
//
// A failure returns to Idle without telling the caller, who keeps waiting
// until they hang up. Whether an automatic decline should be sent is unresolved.
func (m *CallMachine) Accept(ctx context.Context) error {
	if m.phase != domain.CallIncomingPending || m.pending == nil {
		return fmt.Errorf("accept call in phase %s: %w", m.phase, domain.ErrInvalidPhase)
	}

	ctx, span := tracing.TraceCall(ctx, "accept", string(m.pending.RoomID), string(m.pending.From))
	defer span.End()

	pending := *m.pending

	err := m.prepare(ctx)
	if err == nil {
		err = m.answer(ctx, pending)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		m.deps.Logger.Warnw("failed to accept call", "room_id", pending.RoomID, "from", pending.From, "error", err)
		m.release()
		m.deps.Notifier.Notify(domain.NotifyError, msgAcceptCallFailed)
		return err
	}

	m.pending = nil
	m.activate()
	m.deps.Metrics.CallStarted(domain.DirectionIncoming)
	return nil
}

func (m *CallMachine) answer(ctx context.Context, pending domain.PendingOffer) error {
	if err := m.peer.SetRemoteDescription(pending.Offer); err != nil {
		m.deps.Metrics.SignalingError("apply_offer")
		return apperrors.NewSignalingError("failed to apply offer", err)
	}

	answer, err := m.peer.CreateAnswer(ctx)
	if err != nil {
		m.deps.Metrics.SignalingError("answer")
		return apperrors.NewSignalingError("failed to create answer", err)
	}

	payload := domain.AcceptCallPayload{
		To:     pending.From,
		From:   m.cfg.Self.ID,
		Answer: answer,
		RoomID: pending.RoomID,
	}
	if err := m.deps.Signaler.Emit(ctx, domain.EventAcceptVideoCall, payload); err != nil {
		return apperrors.NewConnectivityError("failed to send call answer", err)
	}
	return nil
}

// OnRemoteAnswer completes an outgoing call. A failure to apply the answer
// leaves the call pending until it is ended.
func (m *CallMachine) OnRemoteAnswer(p domain.CallAcceptedPayload) {
	if m.phase != domain.CallOutgoingPending || m.peer == nil || p.Answer == nil {
		m.deps.Logger.Debugw("ignoring call answer", "from", p.From, "phase", m.phase)
		return
	}

	if err := m.peer.SetRemoteDescription(*p.Answer); err != nil {
		m.deps.Metrics.SignalingError("apply_answer")
		m.deps.Logger.Errorw("failed to apply call answer", "room_id", m.cfg.RoomID, "from", p.From, "error", err)
		return
	}

	m.activate()
}

func (m *CallMachine) activate() {
	m.phase = domain.CallActive
	m.remote = m.peer.RemoteStream()
	m.startedAt = m.deps.Now()
	m.elapsed = 0

	m.deps.Transcript.AppendSystem(domain.CallStartedText)
	m.deps.Logger.Infow("call active", "room_id", m.cfg.RoomID, "peer_id", m.cfg.Peer.ID)
	m.deps.Notifier.Notify(domain.NotifySuccess, msgCallConnected)
}

// OnRemoteICE applies a remote candidate when a peer channel exists and drops it otherwise.
func (m *CallMachine) OnRemoteICE(p domain.ICECandidatePayload) {
	if m.peer == nil || p.Candidate == nil {
		m.deps.Metrics.ICECandidateDropped()
		m.deps.Logger.Debugw("dropping ice candidate", "from", p.From, "phase", m.phase)
		return
	}

	if err := m.peer.AddICECandidate(*p.Candidate); err != nil {
		m.deps.Metrics.SignalingError("ice_candidate")
		m.deps.Logger.Warnw("failed to add ice candidate", "from", p.From, "error", err)
	}
}

// Decline rejects the buffered offer. No media has been acquired at this point.
func (m *CallMachine) Decline(ctx context.Context) error {
	if m.phase != domain.CallIncomingPending {
		return nil
	}

	if m.pending != nil {
		payload := domain.CallControlPayload{
			To:     m.pending.From,
			From:   m.cfg.Self.ID,
			RoomID: m.pending.RoomID,
		}
		if err := m.deps.Signaler.Emit(ctx, domain.EventDeclineVideoCall, payload); err != nil {
			m.deps.Logger.Warnw("failed to send decline", "to", m.pending.From, "error", err)
		}
	}

	m.release()
	m.deps.Notifier.Notify(domain.NotifyInfo, msgCallDeclined)
	return nil
}

// Hangup ends the call from any non-idle phase. It is a no-op when idle.
func (m *CallMachine) Hangup(ctx context.Context) error {
	if m.phase == domain.CallIdle {
		return nil
	}

	var emitErr error
	if m.cfg.Peer.ID != "" {
		payload := domain.CallControlPayload{
			To:     m.cfg.Peer.ID,
			From:   m.cfg.Self.ID,
			RoomID: m.cfg.RoomID,
		}
		if err := m.deps.Signaler.Emit(ctx, domain.EventEndVideoCall, payload); err != nil {
			m.deps.Logger.Warnw("failed to send end call", "peer_id", m.cfg.Peer.ID, "error", err)
			emitErr = apperrors.NewConnectivityError("failed to send end call", err)
		}
	}

	m.release()
	m.deps.Notifier.Notify(domain.NotifyError, msgCallEnded)
	return emitErr
}

func (m *CallMachine) OnRemoteDeclined(p domain.CallNoticePayload) {
	if m.phase == domain.CallIdle {
		return
	}
	m.deps.Logger.Infow("call declined by peer", "from", p.From)
	m.release()
	m.deps.Notifier.Notify(domain.NotifyError, msgCallDeclined)
}

func (m *CallMachine) OnRemoteEnded(p domain.CallNoticePayload) {
	if m.phase == domain.CallIdle {
		return
	}
	m.deps.Logger.Infow("call ended by peer", "from", p.From)
	m.release()
	m.deps.Notifier.Notify(domain.NotifyError, msgCallEnded)
}

func (m *CallMachine) ToggleVideo() error {
	return m.toggle(m.videoTrack(), &m.videoEnabled)
}

func (m *CallMachine) ToggleAudio() error {
	return m.toggle(m.audioTrack(), &m.audioEnabled)
}

func (m *CallMachine) toggle(track ports.LocalTrack, flag *bool) error {
	if track == nil {
		return domain.ErrNoLocalMedia
	}
	track.SetEnabled(!track.Enabled())
	*flag = track.Enabled()
	return nil
}

func (m *CallMachine) ToggleFullscreen() {
	m.fullscreen = !m.fullscreen
}

// Tick recomputes the elapsed call time. It reports false outside Active.
func (m *CallMachine) Tick(now time.Time) bool {
	if m.phase != domain.CallActive {
		return false
	}
	m.elapsed = int(now.Sub(m.startedAt) / time.Second)
	return true
}

func (m *CallMachine) Elapsed() int {
	return m.elapsed
}

// prepare acquires local media and builds a peer channel carrying its tracks.
// Partial state is left for release.
func (m *CallMachine) prepare(ctx context.Context) error {
	constraints := ports.MediaConstraints{Video: m.videoEnabled, Audio: m.audioEnabled}
	local, err := m.deps.Media.GetUserMedia(ctx, constraints)
	if err != nil {
		return apperrors.NewMediaAcquisitionError("failed to acquire local media", err)
	}
	m.local = local

	m.generation++
	peer, err := m.deps.Peers.NewPeerChannel(m.handlers(m.generation))
	if err != nil {
		m.deps.Metrics.SignalingError("peer_channel")
		return apperrors.NewSignalingError("failed to create peer channel", err)
	}
	m.peer = peer

	for _, track := range local.Tracks() {
		if err := peer.AddTrack(track); err != nil {
			m.deps.Metrics.SignalingError("add_track")
			return apperrors.NewSignalingError("failed to attach local track", err)
		}
	}
	return nil
}

// handlers binds peer channel callbacks to one call attempt. Callbacks from
// an attempt that has since been released are discarded.
func (m *CallMachine) handlers(generation uint64) ports.PeerChannelHandlers {
	current := func() bool {
		return m.generation == generation && m.peer != nil
	}

	return ports.PeerChannelHandlers{
		OnLocalCandidate: func(candidate webrtc.ICECandidateInit) {
			m.deps.Schedule(func() {
				if !current() {
					return
				}
				payload := domain.ICECandidatePayload{
					Candidate: &candidate,
					To:        m.cfg.Peer.ID,
					RoomID:    m.cfg.RoomID,
				}
				if err := m.deps.Signaler.Emit(context.Background(), domain.EventICECandidate, payload); err != nil {
					m.deps.Logger.Warnw("failed to send ice candidate", "peer_id", m.cfg.Peer.ID, "error", err)
				}
			})
		},
		OnRemoteTrack: func(track ports.RemoteTrack) {
			m.deps.Schedule(func() {
				if !current() {
					return
				}
				m.deps.Logger.Infow("remote track", "track_id", track.ID(), "kind", track.Kind().String())
			})
		},
		OnConnectionLost: func() {
			m.deps.Schedule(func() {
				if !current() {
					return
				}
				m.deps.Logger.Warnw("peer connection lost", "room_id", m.cfg.RoomID, "phase", m.phase)
				_ = m.Hangup(context.Background())
			})
		},
	}
}

// release returns the machine to Idle, stopping local tracks and closing the
// peer channel. A "call ended" record is added only if the call was active.
func (m *CallMachine) release() {
	wasActive := m.phase == domain.CallActive
	var duration time.Duration
	if wasActive {
		duration = m.deps.Now().Sub(m.startedAt)
	}
	hadResources := m.local != nil || m.peer != nil

	if track := m.videoTrack(); track != nil {
		m.videoEnabled = track.Enabled()
	}
	if track := m.audioTrack(); track != nil {
		m.audioEnabled = track.Enabled()
	}

	if m.local != nil {
		m.local.Stop()
		m.local = nil
	}
	if m.peer != nil {
		if err := m.peer.Close(); err != nil {
			m.deps.Logger.Warnw("failed to close peer channel", "room_id", m.cfg.RoomID, "error", err)
		}
		m.peer = nil
	}
	m.remote = nil
	m.pending = nil
	m.generation++

	m.phase = domain.CallIdle
	m.fullscreen = false
	m.startedAt = time.Time{}
	m.elapsed = 0

	if wasActive {
		m.deps.Transcript.AppendSystem(domain.CallEndedText)
		m.deps.Logger.Infow("call ended", "room_id", m.cfg.RoomID, "duration", utils.FormatDuration(duration))
	}
	if wasActive || hadResources {
		m.deps.Metrics.CallEnded(wasActive, duration)
	}
}

func (m *CallMachine) videoTrack() ports.LocalTrack {
	if m.local == nil {
		return nil
	}
	return m.local.VideoTrack()
}

func (m *CallMachine) audioTrack() ports.LocalTrack {
	if m.local == nil {
		return nil
	}
	return m.local.AudioTrack()
}
