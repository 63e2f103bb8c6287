package domain

import (
	"context"
	"time"
)

// Stance is the side a participant argues for
type Stance string

const (
	StancePro Stance = "pro"
	StanceCon Stance = "con"
)

// ParticipantKind distinguishes curated personas from generated ones
type ParticipantKind string

const (
	KindFixedPersona     ParticipantKind = "fixed-persona"
	KindGeneratedPersona ParticipantKind = "generated-persona"
)

// Participant represents one debater in a session
type Participant struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Stance        Stance          `json:"stance"`
	ExpertiseTags []string        `json:"expertise_tags,omitempty"`
	Kind          ParticipantKind `json:"kind"`
}

// IdentityKey identifies a participant persona. Name alone is not enough:
// two generated personas can share a name without being the same slot.
func (p Participant) IdentityKey() string {
	return p.Name + "|" + string(p.Kind)
}

// Session represents one debate instance
type Session struct {
	ID           string        `json:"id"`
	Topic        string        `json:"topic"`
	OwnerID      string        `json:"owner_id"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// LastSequence returns the highest assigned sequence, or -1 for an empty
// session.
func (s *Session) LastSequence() int64 {
	if len(s.Messages) == 0 {
		return -1
	}
	return s.Messages[len(s.Messages)-1].Sequence
}

// Participant looks up a participant by id
func (s *Session) Participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// CacheStore is the volatile tier holding serialized session snapshots with
// a per-entry TTL. A miss is reported as (nil, nil), a transport failure as
// (nil, err); callers treat both as a miss.
type CacheStore interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	SetSession(ctx context.Context, session *Session, ttl time.Duration) error
	DeleteSession(ctx context.Context, id string) error
}

// DurableStore is the persistent tier and the source of truth on cold reads
type DurableStore interface {
	// CreateSession persists session metadata and participants. Returns
	// ErrAlreadyExists when the id is already taken.
	CreateSession(ctx context.Context, session *Session) error
	// GetSession reconstructs the full session: metadata, participants and
	// messages ordered by sequence. Returns ErrNotFound for unknown ids.
	GetSession(ctx context.Context, id string) (*Session, error)
	// AppendMessage stores one message and bumps the session's last_updated.
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	// ListMessages returns messages with sequence strictly greater than
	// sinceSeq, ascending. limit <= 0 means no limit.
	ListMessages(ctx context.Context, sessionID string, sinceSeq int64, limit int) ([]Message, error)
	// DeleteSession removes the session and its sub-records.
	DeleteSession(ctx context.Context, id string) error
	Close() error
}
