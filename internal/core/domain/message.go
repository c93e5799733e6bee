package domain

import (
	"fmt"
	"time"
)

const WelcomeMessageID = "welcome"

// Message is a single transcript record. Records are never mutated once stored.
type Message struct {
	ID         string    `json:"_id"`
	Sender     UserID    `json:"sender"`
	SenderName string    `json:"senderName,omitempty"`
	Receiver   UserID    `json:"receiver,omitempty"`
	Text       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	IsSystem   bool      `json:"isSystem,omitempty"`
}

// NewSystemMessage builds a locally generated record.
func NewSystemMessage(id, text string, at time.Time) Message {
	return Message{
		ID:         id,
		Sender:     SystemSender,
		SenderName: "System",
		Text:       text,
		Timestamp:  at,
		IsSystem:   true,
	}
}

// WelcomeMessage seeds an empty transcript.
func WelcomeMessage(peerName string, at time.Time) Message {
	if peerName == "" {
		peerName = "user"
	}
	return NewSystemMessage(WelcomeMessageID,
		fmt.Sprintf("You are now connected with %s. Start the conversation!", peerName), at)
}

const (
	CallStartedText = "Video call started"
	CallEndedText   = "Video call ended"
)
