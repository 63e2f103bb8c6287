package domain

import (
	"fmt"
	"time"
)

// MessageRole represents the author kind of a message
type MessageRole string

const (
	RoleUser        MessageRole = "user"
	RoleParticipant MessageRole = "participant"
)

// Message is one turn in a debate session. Sequence is the authoritative
// ordering key; timestamps may collide.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	SpeakerID string      `json:"speaker_id,omitempty"` // empty for role=user
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Sequence  int64       `json:"sequence"`
}

// FormatMessageID builds the default message id when the caller did not
// supply one: wall-clock millis plus the assigned sequence, so ids sort in
// append order.
func FormatMessageID(ts time.Time, sequence int64) string {
	return fmt.Sprintf("%d-%d", ts.UnixMilli(), sequence)
}
