// Package session keeps the short-lived state handed from a stream initiation
// request to the streaming request that consumes it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/cache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// ErrNotFound is returned when a session is missing, expired or owned by
// another user.
var ErrNotFound = errors.New("chat session not found or expired")

// DefaultTTL bounds how long an unconsumed session survives.
const DefaultTTL = 5 * time.Minute

// Turn is one prior message of a conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ChatSession is the state captured by stream initiation.
type ChatSession struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	ThreadID        string    `json:"threadId"`
	NewThread       bool      `json:"newThread"`
	ChatHistory     []Turn    `json:"chatHistory"`
	UserMessageText string    `json:"userMessageText"`
	Lat             *float64  `json:"lat,omitempty"`
	Lon             *float64  `json:"lon,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Store persists chat sessions in the cache backend.
type Store struct {
	cache  cache.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewStore creates a session store. A non-positive ttl uses DefaultTTL.
func NewStore(c cache.Client, ttl time.Duration, logger *observability.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cache: c, ttl: ttl, logger: logger.WithComponent("session")}
}

// Create stores sess under a fresh id and returns the stored session.
func (s *Store) Create(ctx context.Context, sess ChatSession) (ChatSession, error) {
	sess.ID = uuid.NewString()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return ChatSession{}, fmt.Errorf("marshal session: %w", err)
	}
	if err := s.cache.Set(ctx, cache.SessionKey(sess.ID), data, s.ttl); err != nil {
		return ChatSession{}, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

// Get loads a session owned by userID.
func (s *Store) Get(ctx context.Context, id, userID string) (ChatSession, error) {
	data, err := s.cache.Get(ctx, cache.SessionKey(id))
	if err != nil {
		return ChatSession{}, lookupError(err)
	}
	return decodeOwned(data, userID)
}

// Claim removes the session from the store and returns it. Only the owner
// can claim a session, and of concurrent claims at most one succeeds.
func (s *Store) Claim(ctx context.Context, id, userID string) (ChatSession, error) {
	// Check ownership first so a foreign request cannot consume the session.
	if _, err := s.Get(ctx, id, userID); err != nil {
		return ChatSession{}, err
	}

	data, err := s.cache.GetDel(ctx, cache.SessionKey(id))
	if err != nil {
		return ChatSession{}, lookupError(err)
	}
	return decodeOwned(data, userID)
}

func lookupError(err error) error {
	if errors.Is(err, cache.ErrCacheMiss) {
		return ErrNotFound
	}
	return fmt.Errorf("load session: %w", err)
}

func decodeOwned(data []byte, userID string) (ChatSession, error) {
	var sess ChatSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return ChatSession{}, fmt.Errorf("decode session: %w", err)
	}
	if sess.UserID != userID {
		return ChatSession{}, ErrNotFound
	}
	return sess, nil
}

// Purge removes every pending session, for all users, and reports how
// many were removed. Streams already being consumed are unaffected.
func (s *Store) Purge(ctx context.Context) (int, error) {
	n, err := s.cache.DeleteByPrefix(ctx, cache.SessionKey(""))
	if err != nil {
		return n, fmt.Errorf("purge sessions: %w", err)
	}
	s.logger.Info().Int("count", n).Msg("Chat sessions purged")
	return n, nil
}

// Use claims the session and runs fn with it. The session is gone from the
// store before fn starts, so it is consumed whether or not fn fails and a
// second stream for the same id gets ErrNotFound.
func (s *Store) Use(ctx context.Context, id, userID string, fn func(ChatSession) error) error {
	sess, err := s.Claim(ctx, id, userID)
	if err != nil {
		return err
	}
	return fn(sess)
}
