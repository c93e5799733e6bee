package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
)

// Outbound relay events.
const (
	EventJoinRoom         = "joinRoom"
	EventSendMessage      = "sendMessage"
	EventStartVideoCall   = "startVideoCall"
	EventAcceptVideoCall  = "acceptVideoCall"
	EventDeclineVideoCall = "declineVideoCall"
	EventEndVideoCall     = "endVideoCall"
)

// Inbound relay events.
const (
	EventRoomJoined        = "roomJoined"
	EventMessageSent       = "messageSent"
	EventMessageError      = "messageError"
	EventJoinRoomError     = "joinRoomError"
	EventReceiveMessage    = "receiveMessage"
	EventIncomingVideoCall = "incomingVideoCall"
	EventVideoCallAccepted = "videoCallAccepted"
	EventVideoCallDeclined = "videoCallDeclined"
	EventVideoCallEnded    = "videoCallEnded"
)

// EventICECandidate travels in both directions.
const EventICECandidate = "iceCandidate"

// Event is the relay envelope.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(name string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	return nil
}

type JoinRoomPayload struct {
	RoomID RoomID `json:"roomId"`
	UserID UserID `json:"userId"`
}

type SendMessagePayload struct {
	Sender     UserID `json:"sender"`
	SenderName string `json:"senderName"`
	Receiver   UserID `json:"receiver"`
	Message    string `json:"message"`
	RoomID     RoomID `json:"roomId,omitempty"`
}

type MessageSentPayload struct {
	MessageID string `json:"messageId"`
	Success   bool   `json:"success"`
}

// ErrorPayload is carried by messageError and joinRoomError.
type ErrorPayload struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

// MessagePayload is a stored or relayed chat message as the server encodes it.
type MessagePayload struct {
	ID         string     `json:"_id"`
	Sender     UserID     `json:"sender"`
	SenderName string     `json:"senderName,omitempty"`
	Receiver   UserID     `json:"receiver,omitempty"`
	Message    string     `json:"message"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	IsSystem   bool       `json:"isSystem,omitempty"`
}

// ToMessage converts the payload, preferring createdAt over timestamp and
// falling back to now when neither is present.
func (p MessagePayload) ToMessage(now time.Time) Message {
	ts := now
	switch {
	case p.CreatedAt != nil:
		ts = *p.CreatedAt
	case p.Timestamp != nil:
		ts = *p.Timestamp
	}
	name := p.SenderName
	if name == "" && !p.IsSystem {
		name = "Unknown"
	}
	return Message{
		ID:         p.ID,
		Sender:     p.Sender,
		SenderName: name,
		Receiver:   p.Receiver,
		Text:       p.Message,
		Timestamp:  ts,
		IsSystem:   p.IsSystem || p.Sender == SystemSender,
	}
}

type StartCallPayload struct {
	To       UserID                    `json:"to"`
	From     UserID                    `json:"from"`
	FromName string                    `json:"fromName"`
	Offer    webrtc.SessionDescription `json:"offer"`
	RoomID   RoomID                    `json:"roomId"`
}

type IncomingCallPayload struct {
	From     UserID                     `json:"from"`
	FromName string                     `json:"fromName"`
	Offer    *webrtc.SessionDescription `json:"offer"`
	RoomID   RoomID                     `json:"roomId"`
}

type AcceptCallPayload struct {
	To     UserID                    `json:"to"`
	From   UserID                    `json:"from"`
	Answer webrtc.SessionDescription `json:"answer"`
	RoomID RoomID                    `json:"roomId"`
}

type CallAcceptedPayload struct {
	From   UserID                     `json:"from"`
	Answer *webrtc.SessionDescription `json:"answer"`
}

// CallControlPayload is sent with declineVideoCall and endVideoCall.
type CallControlPayload struct {
	To     UserID `json:"to"`
	From   UserID `json:"from"`
	RoomID RoomID `json:"roomId"`
}

// CallNoticePayload is received with videoCallDeclined and videoCallEnded.
type CallNoticePayload struct {
	From UserID `json:"from"`
}

type ICECandidatePayload struct {
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
	To        UserID                   `json:"to,omitempty"`
	From      UserID                   `json:"from,omitempty"`
	RoomID    RoomID                   `json:"roomId,omitempty"`
}
