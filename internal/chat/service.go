package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/session"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/storage"
)

// Validation errors.
var (
	ErrEmptyMessage    = errors.New("message text is required")
	ErrInvalidLocation = errors.New("invalid location")
	ErrEmptyTitle      = errors.New("title is required")
)

// ThreadStore persists threads and messages.
type ThreadStore interface {
	ListThreads(ctx context.Context, userID string) ([]storage.Thread, error)
	CreateOrTouchThread(ctx context.Context, thread *storage.Thread) error
	RenameThread(ctx context.Context, userID, id, title string) error
	DeleteThreadCascade(ctx context.Context, userID, id string) error
	AppendMessages(ctx context.Context, messages []*storage.Message) error
	GetHistory(ctx context.Context, userID, threadID string) (*storage.History, error)
}

// MessageRequest is an incoming chat message.
type MessageRequest struct {
	UserID   string
	Text     string
	History  []session.Turn
	ThreadID string
	Lat      *float64
	Lon      *float64
}

// MessageResult is the reply to a message and the thread it belongs to.
type MessageResult struct {
	ThreadID  string
	NewThread bool
	Reply     Reply
}

// StreamHandle identifies a prepared stream.
type StreamHandle struct {
	StreamID string `json:"streamId"`
	ThreadID string `json:"threadId"`
}

// Service ties routing, thread persistence and stream sessions together.
type Service struct {
	router         *Router
	threads        ThreadStore
	sessions       *session.Store
	recommender    *Recommender
	persistTimeout time.Duration
	logger         *observability.Logger
	now            func() time.Time

	pending sync.WaitGroup
}

// NewService creates a chat service. recommender may be nil.
func NewService(router *Router, threads ThreadStore, sessions *session.Store, recommender *Recommender, logger *observability.Logger) *Service {
	return &Service{
		router:         router,
		threads:        threads,
		sessions:       sessions,
		recommender:    recommender,
		persistTimeout: 10 * time.Second,
		logger:         logger.WithComponent("chat.service"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// HandleMessage answers a message. The thread and messages are written in
// the background after the reply is ready; write failures are only logged.
func (s *Service) HandleMessage(ctx context.Context, req MessageRequest) (*MessageResult, error) {
	text, loc, err := validateMessage(req)
	if err != nil {
		return nil, err
	}

	threadID, newThread := req.ThreadID, req.ThreadID == ""
	if newThread {
		threadID = uuid.NewString()
	}

	sentAt := s.now()
	reply, err := s.router.Handle(ctx, Request{Text: text, History: req.History, Location: loc})
	if err != nil {
		return nil, err
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.persist(context.WithoutCancel(ctx), req.UserID, threadID, text, sentAt, reply)
	}()

	return &MessageResult{ThreadID: threadID, NewThread: newThread, Reply: reply}, nil
}

// InitiateStream stores the message in a short-lived session and returns
// the ids the client needs to open the stream.
func (s *Service) InitiateStream(ctx context.Context, req MessageRequest) (*StreamHandle, error) {
	text, _, err := validateMessage(req)
	if err != nil {
		return nil, err
	}

	threadID, newThread := req.ThreadID, req.ThreadID == ""
	if newThread {
		threadID = uuid.NewString()
	}

	sess, err := s.sessions.Create(ctx, session.ChatSession{
		UserID:          req.UserID,
		ThreadID:        threadID,
		NewThread:       newThread,
		ChatHistory:     req.History,
		UserMessageText: text,
		Lat:             req.Lat,
		Lon:             req.Lon,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}

	s.logger.WithContext(ctx).Debug().
		Str("stream_id", sess.ID).
		Str("thread_id", threadID).
		Msg("Chat stream initiated")

	return &StreamHandle{StreamID: sess.ID, ThreadID: threadID}, nil
}

// Stream runs the session's message through the router, passing chunks to
// emit. The thread is written after the stream completes. The session is
// deleted on every path; a missing session returns session.ErrNotFound.
func (s *Service) Stream(ctx context.Context, userID, streamID string, emit func(chunk string) error) (Reply, error) {
	var reply Reply
	err := s.sessions.Use(ctx, streamID, userID, func(sess session.ChatSession) error {
		var loc *catalog.GeoPoint
		if sess.Lat != nil && sess.Lon != nil {
			loc = catalog.NewGeoPoint(*sess.Lat, *sess.Lon)
		}

		var err error
		reply, err = s.router.Stream(ctx, Request{
			Text:     sess.UserMessageText,
			History:  sess.ChatHistory,
			Location: loc,
		}, emit)
		if err != nil {
			return err
		}

		s.persist(context.WithoutCancel(ctx), userID, sess.ThreadID, sess.UserMessageText, sess.CreatedAt, reply)
		return nil
	})
	return reply, err
}

// Drain waits for background writes to finish or ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recommend returns catalog recommendations for query.
func (s *Service) Recommend(ctx context.Context, query string) []Card {
	if s.recommender == nil {
		return []Card{}
	}
	return s.recommender.Recommend(ctx, query)
}

// ListThreads returns the user's threads.
func (s *Service) ListThreads(ctx context.Context, userID string) ([]storage.Thread, error) {
	return s.threads.ListThreads(ctx, userID)
}

// History returns the messages of a thread.
func (s *Service) History(ctx context.Context, userID, threadID string) (*storage.History, error) {
	return s.threads.GetHistory(ctx, userID, threadID)
}

// RenameThread sets a thread's title.
func (s *Service) RenameThread(ctx context.Context, userID, threadID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	return s.threads.RenameThread(ctx, userID, threadID, title)
}

// DeleteThread removes a thread and its messages.
func (s *Service) DeleteThread(ctx context.Context, userID, threadID string) error {
	return s.threads.DeleteThreadCascade(ctx, userID, threadID)
}

// persist writes the exchange to the thread store. It runs detached from the
// request and logs failures instead of returning them.
func (s *Service) persist(ctx context.Context, userID, threadID, text string, sentAt time.Time, reply Reply) {
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	log := s.logger.WithContext(ctx)

	thread := &storage.Thread{ID: threadID, UserID: userID, Title: storage.TitleFrom(text)}
	if err := s.threads.CreateOrTouchThread(ctx, thread); err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("Failed to save chat thread")
		return
	}

	var payload json.RawMessage
	if len(reply.Recommendations) > 0 {
		data, err := json.Marshal(reply.Recommendations)
		if err != nil {
			log.Warn().Err(err).Str("thread_id", threadID).Msg("Failed to encode recommendations")
		} else {
			payload = data
		}
	}

	if sentAt.IsZero() {
		sentAt = s.now()
	}
	messages := []*storage.Message{
		{ThreadID: threadID, UserID: userID, Role: storage.RoleUser, Text: text, CreatedAt: sentAt},
		{ThreadID: threadID, UserID: userID, Role: storage.RoleAssistant, Text: reply.FullText, CreatedAt: s.now(), RecommendationPayload: payload},
	}
	if err := s.threads.AppendMessages(ctx, messages); err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("Failed to save chat messages")
		return
	}

	log.Debug().Str("thread_id", threadID).Bool("recommendations", payload != nil).Msg("Chat exchange saved")
}

func validateMessage(req MessageRequest) (string, *catalog.GeoPoint, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", nil, ErrEmptyMessage
	}
	if req.Lat == nil || req.Lon == nil {
		return text, nil, nil
	}
	loc := catalog.NewGeoPoint(*req.Lat, *req.Lon)
	if err := loc.Check(); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	return text, loc, nil
}
