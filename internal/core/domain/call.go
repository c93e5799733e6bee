package domain

import (
	"time"

	"github.com/pion/webrtc/v3"
)

type CallPhase int

const (
	CallIdle CallPhase = iota
	CallOutgoingPending
	CallIncomingPending
	CallActive
)

func (p CallPhase) String() string {
	switch p {
	case CallIdle:
		return "idle"
	case CallOutgoingPending:
		return "outgoing_pending"
	case CallIncomingPending:
		return "incoming_pending"
	case CallActive:
		return "active"
	default:
		return "unknown"
	}
}

type CallDirection string

const (
	DirectionOutgoing CallDirection = "outgoing"
	DirectionIncoming CallDirection = "incoming"
)

// PendingOffer is a remote offer buffered until the local user answers.
type PendingOffer struct {
	From     UserID
	FromName string
	RoomID   RoomID
	Offer    webrtc.SessionDescription
}

// CallState is a read-only view of the call session.
type CallState struct {
	Phase          CallPhase `json:"-"`
	PhaseName      string    `json:"phase"`
	VideoEnabled   bool      `json:"video_enabled"`
	AudioEnabled   bool      `json:"audio_enabled"`
	Fullscreen     bool      `json:"fullscreen"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	HasLocalMedia  bool      `json:"has_local_media"`
	HasRemoteMedia bool      `json:"has_remote_media"`
	HasPeerChannel bool      `json:"has_peer_channel"`
	CallerName     string    `json:"caller_name,omitempty"`
}
