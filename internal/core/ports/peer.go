package ports

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// PeerChannelHandlers are invoked from transport goroutines.
type PeerChannelHandlers struct {
	OnLocalCandidate func(candidate webrtc.ICECandidateInit)
	OnRemoteTrack    func(track RemoteTrack)
	OnConnectionLost func()
}

type PeerChannelFactory interface {
	NewPeerChannel(handlers PeerChannelHandlers) (PeerChannel, error)
}

type PeerChannel interface {
	AddTrack(track LocalTrack) error
	// CreateOffer and CreateAnswer also install the result as the local description.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// RemoteStream collects inbound tracks as they arrive.
	RemoteStream() RemoteStream
	Close() error
}
