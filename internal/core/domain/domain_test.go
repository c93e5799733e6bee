package domain

import (
	"encoding/json"
	"testing"
	"testing/quick"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomID(t *testing.T) {
	assert.Equal(t, RoomID("u1_u2"), NewRoomID("u1", "u2"))
	assert.Equal(t, RoomID("u1_u2"), NewRoomID("u2", "u1"))
	assert.Equal(t, RoomID("abc_abc"), NewRoomID("abc", "abc"))
}

func TestNewRoomID_Symmetric(t *testing.T) {
	symmetric := func(a, b string) bool {
		return NewRoomID(UserID(a), UserID(b)) == NewRoomID(UserID(b), UserID(a))
	}
	require.NoError(t, quick.Check(symmetric, nil))
}

func TestWelcomeMessage(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := WelcomeMessage("Bob", at)

	assert.Equal(t, WelcomeMessageID, msg.ID)
	assert.Equal(t, SystemSender, msg.Sender)
	assert.True(t, msg.IsSystem)
	assert.Equal(t, "You are now connected with Bob. Start the conversation!", msg.Text)
	assert.Equal(t, at, msg.Timestamp)

	assert.Contains(t, WelcomeMessage("", at).Text, "connected with user.")
}

func TestCallPhase_String(t *testing.T) {
	assert.Equal(t, "idle", CallIdle.String())
	assert.Equal(t, "outgoing_pending", CallOutgoingPending.String())
	assert.Equal(t, "incoming_pending", CallIncomingPending.String())
	assert.Equal(t, "active", CallActive.String())
	assert.Equal(t, "unknown", CallPhase(42).String())
}

func TestEvent_RoundTrip(t *testing.T) {
	ev, err := NewEvent(EventStartVideoCall, StartCallPayload{
		To:       "u2",
		From:     "u1",
		FromName: "Alice",
		Offer:    webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
		RoomID:   "u1_u2",
	})
	require.NoError(t, err)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"startVideoCall","data":{"to":"u2","from":"u1","fromName":"Alice","offer":{"type":"offer","sdp":"v=0"},"roomId":"u1_u2"}}`,
		string(raw))

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	var incoming IncomingCallPayload
	require.NoError(t, decoded.Decode(&incoming))
	require.NotNil(t, incoming.Offer)
	assert.Equal(t, webrtc.SDPTypeOffer, incoming.Offer.Type)
	assert.Equal(t, "Alice", incoming.FromName)
}

func TestEvent_DecodeWithoutPayload(t *testing.T) {
	var p CallNoticePayload
	assert.Error(t, Event{Name: EventVideoCallEnded}.Decode(&p))
}

func TestMessagePayload_ToMessage(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-time.Hour)
	stamp := now.Add(-2 * time.Hour)

	tests := []struct {
		name     string
		payload  MessagePayload
		wantTime time.Time
		wantName string
	}{
		{
			name:     "prefers createdAt",
			payload:  MessagePayload{ID: "m1", Sender: "u1", SenderName: "Alice", CreatedAt: &created, Timestamp: &stamp},
			wantTime: created,
			wantName: "Alice",
		},
		{
			name:     "falls back to timestamp",
			payload:  MessagePayload{ID: "m2", Sender: "u1", Timestamp: &stamp},
			wantTime: stamp,
			wantName: "Unknown",
		},
		{
			name:     "falls back to now",
			payload:  MessagePayload{ID: "m3", Sender: "u1", SenderName: "Alice"},
			wantTime: now,
			wantName: "Alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.payload.ToMessage(now)
			assert.Equal(t, tt.wantTime, msg.Timestamp)
			assert.Equal(t, tt.wantName, msg.SenderName)
			assert.False(t, msg.IsSystem)
		})
	}
}

func TestMessagePayload_SystemSender(t *testing.T) {
	msg := MessagePayload{ID: "s1", Sender: SystemSender, Message: "hi"}.ToMessage(time.Now())
	assert.True(t, msg.IsSystem)
}
