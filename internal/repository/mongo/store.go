package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agoradebate/agora/internal/config"
	"github.com/agoradebate/agora/internal/domain"
)

// Store implements domain.DurableStore on MongoDB. Sessions and their
// participants live in one document, messages in a separate collection
// indexed by (session_id, sequence).
type Store struct {
	client   *mongo.Client
	sessions *mongo.Collection
	messages *mongo.Collection
}

type sessionDoc struct {
	ID           string               `bson:"_id"`
	Topic        string               `bson:"topic"`
	OwnerID      string               `bson:"owner_id"`
	LastUpdated  time.Time            `bson:"last_updated"`
	Participants []domain.Participant `bson:"participants"`
}

type messageDoc struct {
	SessionID string    `bson:"session_id"`
	Sequence  int64     `bson:"sequence"`
	ID        string    `bson:"id"`
	Role      string    `bson:"role"`
	SpeakerID string    `bson:"speaker_id,omitempty"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewStore connects to MongoDB and prepares the collections and indexes
func NewStore(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:   client,
		sessions: db.Collection("debate_sessions"),
		messages: db.Collection("debate_messages"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "sequence", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	doc := sessionDoc{
		ID:           session.ID,
		Topic:        session.Topic,
		OwnerID:      session.OwnerID,
		LastUpdated:  session.LastUpdated,
		Participants: session.Participants,
	}
	if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	messages, err := s.ListMessages(ctx, id, -1, 0)
	if err != nil {
		return nil, err
	}

	return &domain.Session{
		ID:           doc.ID,
		Topic:        doc.Topic,
		OwnerID:      doc.OwnerID,
		LastUpdated:  doc.LastUpdated,
		Participants: doc.Participants,
		Messages:     messages,
	}, nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	doc := messageDoc{
		SessionID: sessionID,
		Sequence:  msg.Sequence,
		ID:        msg.ID,
		Role:      string(msg.Role),
		SpeakerID: msg.SpeakerID,
		Content:   msg.Content,
		CreatedAt: msg.Timestamp,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err := s.sessions.UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{"$set": bson.M{"last_updated": msg.Timestamp}},
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, sinceSeq int64, limit int) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.messages.Find(ctx, bson.M{
		"session_id": sessionID,
		"sequence":   bson.M{"$gt": sinceSeq},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []domain.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		messages = append(messages, domain.Message{
			ID:        doc.ID,
			Role:      domain.MessageRole(doc.Role),
			SpeakerID: doc.SpeakerID,
			Content:   doc.Content,
			Timestamp: doc.CreatedAt,
			Sequence:  doc.Sequence,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("message cursor error: %w", err)
	}
	return messages, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.sessions.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}

	if _, err := s.messages.DeleteMany(ctx, bson.M{"session_id": id}); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
