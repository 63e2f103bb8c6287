package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/agoradebate/agora/internal/config"
	"github.com/agoradebate/agora/internal/domain"
)

// Store implements domain.DurableStore on database/sql. The same code
// serves the sqlite and mysql drivers; timestamps are stored as unix
// milliseconds so both dialects behave identically.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects using the configured driver and ensures the schema exists
func Open(ctx context.Context, cfg config.SQLStoreConfig) (*Store, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping %s store: %w", cfg.Driver, err)
	}

	s := &Store{db: db, driver: cfg.Driver}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS debate_sessions (
			id VARCHAR(191) PRIMARY KEY,
			topic TEXT NOT NULL,
			owner_id VARCHAR(191) NOT NULL,
			last_updated BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS debate_participants (
			session_id VARCHAR(191) NOT NULL,
			position INT NOT NULL,
			id VARCHAR(191) NOT NULL,
			name TEXT NOT NULL,
			stance VARCHAR(16) NOT NULL,
			expertise_tags TEXT,
			kind VARCHAR(32) NOT NULL,
			PRIMARY KEY (session_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS debate_messages (
			session_id VARCHAR(191) NOT NULL,
			sequence BIGINT NOT NULL,
			id VARCHAR(191) NOT NULL,
			role VARCHAR(16) NOT NULL,
			speaker_id VARCHAR(191),
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (session_id, sequence)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO debate_sessions (id, topic, owner_id, last_updated) VALUES (?, ?, ?, ?)`,
		session.ID, session.Topic, session.OwnerID, session.LastUpdated.UnixMilli(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	for i, p := range session.Participants {
		tags, err := json.Marshal(p.ExpertiseTags)
		if err != nil {
			return fmt.Errorf("failed to marshal expertise tags: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO debate_participants (session_id, position, id, name, stance, expertise_tags, kind)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			session.ID, i, p.ID, p.Name, string(p.Stance), string(tags), string(p.Kind),
		)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	var lastUpdated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, topic, owner_id, last_updated FROM debate_sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.Topic, &session.OwnerID, &lastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session.LastUpdated = time.UnixMilli(lastUpdated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, stance, expertise_tags, kind
		 FROM debate_participants WHERE session_id = ? ORDER BY position ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Participant
		var stance, kind string
		var tags sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &stance, &tags, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &p.ExpertiseTags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal expertise tags: %w", err)
			}
		}
		p.Stance = domain.Stance(stance)
		p.Kind = domain.ParticipantKind(kind)
		session.Participants = append(session.Participants, p)
	}

	messages, err := s.ListMessages(ctx, id, -1, 0)
	if err != nil {
		return nil, err
	}
	session.Messages = messages

	return &session, nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var speaker any
	if msg.SpeakerID != "" {
		speaker = msg.SpeakerID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO debate_messages (session_id, sequence, id, role, speaker_id, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, msg.Sequence, msg.ID, string(msg.Role), speaker, msg.Content, msg.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE debate_sessions SET last_updated = ? WHERE id = ?`,
		msg.Timestamp.UnixMilli(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, sinceSeq int64, limit int) ([]domain.Message, error) {
	query := `SELECT id, role, speaker_id, content, created_at, sequence
		FROM debate_messages
		WHERE session_id = ? AND sequence > ?
		ORDER BY sequence ASC`
	args := []any{sessionID, sinceSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var roleStr string
		var speaker sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &roleStr, &speaker, &m.Content, &createdAt, &m.Sequence); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(roleStr)
		m.SpeakerID = speaker.String
		m.Timestamp = time.UnixMilli(createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM debate_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM debate_participants WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete participants: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM debate_messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isDuplicateKey checks the driver error codes (mysql 1062, sqlite
// SQLITE_CONSTRAINT) and only falls back to the message text for errors
// neither driver produced.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
