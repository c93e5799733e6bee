package domain

import (
	"sort"
	"strings"
)

type UserID string
type RoomID string

// SystemSender marks transcript records produced locally rather than by a participant.
const SystemSender UserID = "system"

// NewRoomID derives the room token shared by two participants.
// Both ends compute the same value regardless of argument order.
func NewRoomID(a, b UserID) RoomID {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return RoomID(strings.Join(ids, "_"))
}

type User struct {
	ID           UserID `json:"_id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	City         string `json:"city,omitempty"`
	Country      string `json:"country,omitempty"`
	Bio          string `json:"bio,omitempty"`
	SkillToTeach string `json:"skillToTeach,omitempty"`
	SkillToLearn string `json:"skillToLearn,omitempty"`
}

// DisplayName falls back to a placeholder for users without a name.
func (u User) DisplayName() string {
	if u.Name == "" {
		return "user"
	}
	return u.Name
}
