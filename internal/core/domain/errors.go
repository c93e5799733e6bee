package domain

import "errors"

var (
	ErrChannelClosed    = errors.New("event channel is not open")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrNoPeer           = errors.New("no peer selected")
	ErrNoLocalMedia     = errors.New("no local media")
	ErrRateLimited      = errors.New("sending too fast")
	ErrInvalidPhase     = errors.New("operation not valid in current call phase")
	ErrSessionClosed    = errors.New("session closed")
	ErrNotLoggedIn      = errors.New("please login to access chat")
	ErrSessionExpired   = errors.New("stored session has expired")
	ErrNoMediaRequested = errors.New("neither audio nor video requested")
)
