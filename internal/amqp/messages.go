package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LogoutMessage announces that a session ended, either by an explicit
// sign-out or because a credential refresh failed.
type LogoutMessage struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// Logout reasons
const (
	ReasonSignOut       = "sign_out"
	ReasonRefreshFailed = "refresh_failed"
)

// NewLogoutMessage creates a message with a fresh ID. Origin is filled in by
// the publishing Broadcaster when empty.
func NewLogoutMessage(reason string) *LogoutMessage {
	return &LogoutMessage{
		ID:        uuid.NewString(),
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LogoutMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LogoutMessageFromJSON creates a message from JSON bytes
func LogoutMessageFromJSON(data []byte) (*LogoutMessage, error) {
	var msg LogoutMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
