package ports

import (
	"context"

	"github.com/pion/webrtc/v3"
)

type MediaConstraints struct {
	Video bool
	Audio bool
}

type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints MediaConstraints) (LocalStream, error)
}

// LocalStream owns the capture handles acquired for a call.
type LocalStream interface {
	Tracks() []LocalTrack
	// VideoTrack and AudioTrack return nil when the kind was not acquired.
	VideoTrack() LocalTrack
	AudioTrack() LocalTrack
	Stop()
}

type LocalTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(enabled bool)
	TrackLocal() webrtc.TrackLocal
	Stop()
}

type RemoteStream interface {
	Tracks() []RemoteTrack
}

type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
}
