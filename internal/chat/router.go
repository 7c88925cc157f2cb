package chat

import (
	"context"
	"errors"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/llm"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/search"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/session"
)

// Searcher runs product searches for SEARCH intents.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Result, error)
}

// Request is a chat message to route.
type Request struct {
	Text     string
	History  []session.Turn
	Location *catalog.GeoPoint
}

// Reply is the assistant's answer.
type Reply struct {
	FullText        string `json:"fullText"`
	Recommendations []Card `json:"recommendations"`
	Intent          Intent `json:"-"`
}

// Router sends each message either to the search orchestrator or to a
// conversational completion.
type Router struct {
	classifier *Classifier
	model      llm.Client
	searcher   Searcher
	cardLimit  int
	logger     *observability.Logger
}

// NewRouter creates a router.
func NewRouter(model llm.Client, searcher Searcher, cardLimit int, logger *observability.Logger) *Router {
	if cardLimit <= 0 {
		cardLimit = DefaultCardLimit
	}
	return &Router{
		classifier: NewClassifier(model, logger),
		model:      model,
		searcher:   searcher,
		cardLimit:  cardLimit,
		logger:     logger.WithComponent("chat.router"),
	}
}

// Handle classifies req and returns the complete reply. Only a search
// failure is returned as an error; model failures produce FallbackText.
func (r *Router) Handle(ctx context.Context, req Request) (Reply, error) {
	intent := r.classifier.Classify(ctx, req.Text)
	if intent.IsSearch() {
		return r.searchReply(ctx, intent, req)
	}

	text, err := r.model.Complete(ctx, r.conversation(req))
	if err != nil {
		r.logger.WithContext(ctx).Error().Err(err).Msg("Chat completion failed, sending fallback")
		text = FallbackText
	}
	return Reply{FullText: text, Recommendations: []Card{}, Intent: intent}, nil
}

// Stream routes req like Handle, passing reply text to emit as it is
// produced. Search replies are emitted as one chunk. An error from emit stops
// the stream and is returned.
func (r *Router) Stream(ctx context.Context, req Request, emit func(chunk string) error) (Reply, error) {
	intent := r.classifier.Classify(ctx, req.Text)
	if intent.IsSearch() {
		reply, err := r.searchReply(ctx, intent, req)
		if err != nil {
			return reply, err
		}
		return reply, emit(reply.FullText)
	}

	var (
		emitted bool
		emitErr error
	)
	text, err := r.model.Stream(ctx, r.conversation(req), func(chunk string) error {
		if emitErr = emit(chunk); emitErr != nil {
			return emitErr
		}
		emitted = true
		return nil
	})
	reply := Reply{FullText: text, Recommendations: []Card{}, Intent: intent}

	switch {
	case emitErr != nil:
		return reply, emitErr
	case err != nil && !emitted:
		r.logger.WithContext(ctx).Error().Err(err).Msg("Chat stream failed, sending fallback")
		reply.FullText = FallbackText
		return reply, emit(FallbackText)
	case err != nil:
		// Keep what the client already received.
		r.logger.WithContext(ctx).Warn().Err(err).Int("received", len(text)).Msg("Chat stream ended early")
		return reply, nil
	}
	return reply, nil
}

func (r *Router) searchReply(ctx context.Context, intent Intent, req Request) (Reply, error) {
	query := *intent.Query
	if req.Location == nil {
		return Reply{FullText: LocationRequestText, Recommendations: []Card{}, Intent: intent}, nil
	}
	if r.searcher == nil {
		return Reply{}, errors.New("search is not available")
	}

	res, err := r.searcher.Search(ctx, search.Query{Text: query, Location: req.Location})
	if err != nil {
		return Reply{Intent: intent}, err
	}

	cards := CardsFromProducts(res.Products, r.cardLimit)
	r.logger.WithContext(ctx).Info().
		Str("query", query).
		Int("cards", len(cards)).
		Bool("cache_hit", res.CacheHit).
		Msg("Chat search answered")

	return Reply{
		FullText:        searchPreface(query, len(cards) > 0),
		Recommendations: cards,
		Intent:          intent,
	}, nil
}

// conversation maps chat history and the new message to model messages.
func (r *Router) conversation(req Request) []llm.Message {
	msgs := make([]llm.Message, 0, len(req.History)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: conversationInstruction})
	for _, t := range req.History {
		if t.Text == "" {
			continue
		}
		switch t.Role {
		case "user":
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Text})
		case "assistant", "model":
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.Text})
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Text})
	return msgs
}
