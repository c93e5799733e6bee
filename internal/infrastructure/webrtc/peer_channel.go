package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"skillhub/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config is the peer connection configuration.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		},
	}
}

// PeerFactory builds peer channels sharing one pion API instance.
type PeerFactory struct {
	config Config
	api    *webrtc.API
	logger *zap.SugaredLogger
}

func NewPeerFactory(config Config, logger *zap.SugaredLogger) (*PeerFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return &PeerFactory{
		config: config,
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settingEngine)),
		logger: logger,
	}, nil
}

func (f *PeerFactory) NewPeerChannel(handlers ports.PeerChannelHandlers) (ports.PeerChannel, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ch := &PeerChannel{
		pc:       pc,
		handlers: handlers,
		remote:   &RemoteStream{},
		logger:   f.logger,
	}

	pc.OnICECandidate(ch.handleICECandidate)
	pc.OnTrack(ch.handleTrack)
	pc.OnConnectionStateChange(ch.handleConnectionState)
	return ch, nil
}

// PeerChannel wraps one pion PeerConnection.
type PeerChannel struct {
	pc       *webrtc.PeerConnection
	handlers ports.PeerChannelHandlers
	remote   *RemoteStream
	logger   *zap.SugaredLogger

	closed   atomic.Bool
	lostOnce sync.Once
}

func (c *PeerChannel) AddTrack(track ports.LocalTrack) error {
	sender, err := c.pc.AddTrack(track.TrackLocal())
	if err != nil {
		return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}
	go c.readSenderRTCP(track.ID(), sender)
	return nil
}

func (c *PeerChannel) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *PeerChannel) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *PeerChannel) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *PeerChannel) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *PeerChannel) RemoteStream() ports.RemoteStream {
	return c.remote
}

func (c *PeerChannel) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

// Close closes the connection. Closing locally is not reported as a loss.
func (c *PeerChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.pc.Close()
}

func (c *PeerChannel) handleICECandidate(candidate *webrtc.ICECandidate) {
	// nil marks the end of gathering.
	if candidate == nil || c.closed.Load() || c.handlers.OnLocalCandidate == nil {
		return
	}
	c.handlers.OnLocalCandidate(candidate.ToJSON())
}

func (c *PeerChannel) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	rt := &RemoteTrack{
		id:    track.ID(),
		kind:  track.Kind(),
		codec: track.Codec().MimeType,
	}
	c.remote.add(rt)

	c.logger.Infow("remote track started",
		"track_id", rt.id,
		"kind", rt.kind.String(),
		"codec", rt.codec,
	)

	// Ask the sender for a keyframe so video can be decoded right away.
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := c.pc.WriteRTCP(pli); err != nil {
			c.logger.Debugw("failed to send PLI", "track_id", rt.id, "error", err)
		}
	}

	go c.readReceiverRTCP(rt.id, receiver)
	go c.drainTrack(track, rt)

	if c.handlers.OnRemoteTrack != nil {
		c.handlers.OnRemoteTrack(rt)
	}
}

func (c *PeerChannel) handleConnectionState(state webrtc.PeerConnectionState) {
	c.logger.Infow("peer connection state changed", "connection_state", state.String())

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		if c.closed.Load() || c.handlers.OnConnectionLost == nil {
			return
		}
		c.lostOnce.Do(c.handlers.OnConnectionLost)
	}
}

// drainTrack reads inbound RTP so the receive buffers never fill.
func (c *PeerChannel) drainTrack(track *webrtc.TrackRemote, rt *RemoteTrack) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			c.logger.Debugw("remote track ended", "track_id", rt.id, "packets", rt.Packets(), "error", err)
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		count := rt.record(len(pkt.Payload))
		if count%500 == 0 {
			c.logger.Debugw("receiving media",
				"track_id", rt.id,
				"sequence", pkt.SequenceNumber,
				"packets", count,
				"bytes", rt.Bytes(),
			)
		}
	}
}

func (c *PeerChannel) readReceiverRTCP(trackID string, receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		c.logRTCP(trackID, packets)
	}
}

func (c *PeerChannel) readSenderRTCP(trackID string, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		c.logRTCP(trackID, packets)
	}
}

func (c *PeerChannel) logRTCP(trackID string, packets []rtcp.Packet) {
	s := summarizeRTCP(packets)
	if s.empty() {
		return
	}
	c.logger.Debugw("rtcp",
		"track_id", trackID,
		"reports", s.Reports,
		"packet_loss", s.PacketLoss,
		"jitter", s.Jitter,
		"rtt", s.RTT,
		"nacks", s.Nacks,
		"plis", s.PLIs,
	)
}

// rtcpSummary aggregates the quality signals carried by a batch of RTCP packets.
type rtcpSummary struct {
	Reports    int
	PacketLoss float64 // 0..1
	Jitter     uint32
	RTT        time.Duration
	Nacks      int
	PLIs       int
}

func (s rtcpSummary) empty() bool {
	return s.Reports == 0 && s.Nacks == 0 && s.PLIs == 0
}

func summarizeRTCP(packets []rtcp.Packet) rtcpSummary {
	var (
		s         rtcpSummary
		totalLoss uint32
		jitter    uint32
		rtt       time.Duration
		rttCount  int
	)

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				totalLoss += uint32(report.FractionLost)
				jitter += report.Jitter
				s.Reports++
				if report.LastSenderReport != 0 && report.Delay != 0 {
					rtt += time.Duration(report.Delay) * time.Second / 65536
					rttCount++
				}
			}
		case *rtcp.TransportLayerNack:
			s.Nacks += len(p.Nacks)
		case *rtcp.PictureLossIndication:
			s.PLIs++
		}
	}

	if s.Reports > 0 {
		s.PacketLoss = float64(totalLoss) / float64(s.Reports) / 256.0
		s.Jitter = jitter / uint32(s.Reports)
	}
	if rttCount > 0 {
		s.RTT = rtt / time.Duration(rttCount)
	}
	return s
}

// RemoteStream collects the tracks received on one peer channel.
type RemoteStream struct {
	mu     sync.RWMutex
	tracks []*RemoteTrack
}

func (s *RemoteStream) add(track *RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
}

func (s *RemoteStream) Tracks() []ports.RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ports.RemoteTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

type RemoteTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	codec   string
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (t *RemoteTrack) ID() string                { return t.id }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *RemoteTrack) Codec() string             { return t.codec }
func (t *RemoteTrack) Packets() uint64           { return t.packets.Load() }
func (t *RemoteTrack) Bytes() uint64             { return t.bytes.Load() }

func (t *RemoteTrack) record(payloadSize int) uint64 {
	t.bytes.Add(uint64(payloadSize))
	return t.packets.Add(1)
}
