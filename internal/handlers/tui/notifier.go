package tui

import (
	"skillhub/internal/core/domain"
)

const notificationBuffer = 32

// Notifier queues session notifications for display as toasts. When the view
// falls behind, the oldest pending notification is discarded.
type Notifier struct {
	ch chan domain.Notification
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan domain.Notification, notificationBuffer)}
}

func (n *Notifier) Notify(level domain.NotificationLevel, text string) {
	note := domain.Notification{Level: level, Text: text}
	for {
		select {
		case n.ch <- note:
			return
		default:
		}
		select {
		case <-n.ch:
		default:
		}
	}
}

func (n *Notifier) Notifications() <-chan domain.Notification {
	return n.ch
}
