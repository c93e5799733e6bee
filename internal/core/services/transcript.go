package services

import (
	"time"

	"skillhub/internal/core/domain"
	"skillhub/pkg/utils"
)

// Transcript is the ordered, de-duplicated message list of one room.
// It is owned by the session loop and is not safe for concurrent use.
type Transcript struct {
	messages []domain.Message
	ids      map[string]struct{}
	loading  bool
	now      func() time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{
		ids:     make(map[string]struct{}),
		loading: true,
		now:     utils.Now,
	}
}

// Seed replaces the transcript with fetched history. An empty history
// leaves a single welcome record naming the peer.
func (t *Transcript) Seed(history []domain.Message, peerName string) {
	t.messages = make([]domain.Message, 0, len(history))
	t.ids = make(map[string]struct{}, len(history))
	t.loading = false

	for _, msg := range history {
		t.Append(msg)
	}
	if len(t.messages) == 0 {
		t.Append(domain.WelcomeMessage(peerName, t.now()))
	}
}

// Append adds msg unless a record with the same id is already present.
// It reports whether the record was stored.
func (t *Transcript) Append(msg domain.Message) bool {
	if msg.ID == "" {
		msg.ID = utils.GenerateID("msg")
	}
	if _, exists := t.ids[msg.ID]; exists {
		return false
	}
	t.ids[msg.ID] = struct{}{}
	t.messages = append(t.messages, msg)
	return true
}

func (t *Transcript) AppendSystem(text string) domain.Message {
	msg := domain.NewSystemMessage(utils.GenerateSystemMessageID(), text, t.now())
	t.Append(msg)
	return msg
}

// Messages returns a copy of the records in arrival order.
func (t *Transcript) Messages() []domain.Message {
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

// Loading reports whether the transcript is still waiting for its seed.
func (t *Transcript) Loading() bool {
	return t.loading
}
