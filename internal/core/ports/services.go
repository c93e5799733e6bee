package ports

import (
	"context"
	"time"

	"skillhub/internal/core/domain"
)

type HistoryFetcher interface {
	FetchHistory(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error)
}

type UserDirectory interface {
	ListUsers(ctx context.Context, exclude domain.UserID) ([]domain.User, error)
}

type Notifier interface {
	Notify(level domain.NotificationLevel, text string)
}

type SessionMetrics interface {
	MessageReceived()
	DuplicateDropped()
	MessageSent()
	CallStarted(direction domain.CallDirection)
	CallEnded(reachedActive bool, duration time.Duration)
	ICECandidateDropped()
	SignalingError(stage string)
}
