package utils

import (
	"github.com/google/uuid"
)

// GenerateSystemMessageID generates an ID for a locally produced system message.
// The "system-" prefix keeps it out of the server's ID space.
func GenerateSystemMessageID() string {
	return "system-" + uuid.NewString()
}

// GenerateConnectionID generates an ID for one relay connection attempt.
func GenerateConnectionID() string {
	return "conn-" + uuid.NewString()
}

// GenerateRequestID generates the X-Request-ID sent with each REST call.
func GenerateRequestID() string {
	return "req-" + uuid.NewString()
}
