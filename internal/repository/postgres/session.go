package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agoradebate/agora/internal/domain"
)

// SessionRepository implements domain.DurableStore on Postgres
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO debate_sessions (id, topic, owner_id, last_updated)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, query, session.ID, session.Topic, session.OwnerID, session.LastUpdated); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	participantQuery := `
		INSERT INTO debate_participants (session_id, position, id, name, stance, expertise_tags, kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i, p := range session.Participants {
		tags, err := json.Marshal(p.ExpertiseTags)
		if err != nil {
			return fmt.Errorf("failed to marshal expertise tags: %w", err)
		}
		if _, err := tx.Exec(ctx, participantQuery,
			session.ID, i, p.ID, p.Name, string(p.Stance), tags, string(p.Kind),
		); err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT id, topic, owner_id, last_updated
		FROM debate_sessions
		WHERE id = $1
	`
	var s domain.Session
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.Topic, &s.OwnerID, &s.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	participants, err := r.listParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Participants = participants

	messages, err := r.ListMessages(ctx, id, -1, 0)
	if err != nil {
		return nil, err
	}
	s.Messages = messages

	return &s, nil
}

func (r *SessionRepository) listParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	query := `
		SELECT id, name, stance, expertise_tags, kind
		FROM debate_participants
		WHERE session_id = $1
		ORDER BY position ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		var stance, kind string
		var tags []byte
		if err := rows.Scan(&p.ID, &p.Name, &stance, &tags, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &p.ExpertiseTags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal expertise tags: %w", err)
			}
		}
		p.Stance = domain.Stance(stance)
		p.Kind = domain.ParticipantKind(kind)
		participants = append(participants, p)
	}
	return participants, nil
}

func (r *SessionRepository) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO debate_messages (session_id, sequence, id, role, speaker_id, content, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`
	if _, err := tx.Exec(ctx, query,
		sessionID, msg.Sequence, msg.ID, string(msg.Role), msg.SpeakerID, msg.Content, msg.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	touch := `UPDATE debate_sessions SET last_updated = $1 WHERE id = $2`
	if _, err := tx.Exec(ctx, touch, msg.Timestamp, sessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListMessages(ctx context.Context, sessionID string, sinceSeq int64, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, role, COALESCE(speaker_id, ''), content, created_at, sequence
		FROM debate_messages
		WHERE session_id = $1 AND sequence > $2
		ORDER BY sequence ASC
	`
	args := []any{sessionID, sinceSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var roleStr string
		if err := rows.Scan(&m.ID, &roleStr, &m.SpeakerID, &m.Content, &m.Timestamp, &m.Sequence); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(roleStr)
		messages = append(messages, m)
	}
	return messages, nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	query := `DELETE FROM debate_sessions WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *SessionRepository) Close() error {
	r.db.Close()
	return nil
}
