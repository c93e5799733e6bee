package ports

import (
	"context"

	"skillhub/internal/core/domain"
)

// EventChannel is a duplex connection to the relay, scoped to one room.
type EventChannel interface {
	Emit(ctx context.Context, name string, payload interface{}) error
	// Events is closed when the connection is lost or closed.
	Events() <-chan domain.Event
	Connected() bool
	Close() error
}

type EventDialer interface {
	Dial(ctx context.Context, serverAddress string, userID domain.UserID) (EventChannel, error)
}

// Signaler is the outbound half of an EventChannel.
type Signaler interface {
	Emit(ctx context.Context, name string, payload interface{}) error
}
