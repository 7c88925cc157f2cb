// Package chat routes chat messages between conversation and food search,
// and persists the resulting threads.
package chat

import (
	"context"
	"strings"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/llm"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// IntentKind is the classification of a chat message.
type IntentKind string

const (
	IntentSearch IntentKind = "SEARCH"
	IntentChat   IntentKind = "CHAT"
)

// Intent is the outcome of classifying a message. Query is set only for
// searches. Region is the place the message names, if any.
type Intent struct {
	Kind   IntentKind `json:"intent"`
	Query  *string    `json:"query"`
	Region string     `json:"region,omitempty"`
}

// IsSearch reports whether the intent is a search with a usable query.
func (i Intent) IsSearch() bool {
	return i.Kind == IntentSearch && i.Query != nil && *i.Query != ""
}

// Classifier asks the model whether a message is a food search.
type Classifier struct {
	model  llm.Client
	logger *observability.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(model llm.Client, logger *observability.Logger) *Classifier {
	return &Classifier{model: model, logger: logger.WithComponent("chat.intent")}
}

type intentResponse struct {
	Intent string  `json:"intent"`
	Query  *string `json:"query"`
	Region *string `json:"region"`
}

// Classify returns the message's intent. It never fails: a model error, an
// unparseable reply or an unknown intent all classify as CHAT.
func (c *Classifier) Classify(ctx context.Context, message string) Intent {
	log := c.logger.WithContext(ctx)
	chatIntent := Intent{Kind: IntentChat}

	reply, err := c.model.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: intentInstruction},
		{Role: llm.RoleUser, Content: message},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Intent classification failed, treating as chat")
		return chatIntent
	}

	parsed, err := llm.ParseJSON[intentResponse](reply)
	if err != nil {
		log.Warn().Err(err).Int("reply_len", len(reply)).Msg("Intent reply not parseable, treating as chat")
		return chatIntent
	}

	switch IntentKind(strings.ToUpper(strings.TrimSpace(parsed.Intent))) {
	case IntentSearch:
		if parsed.Query == nil {
			return chatIntent
		}
		q := strings.TrimSpace(*parsed.Query)
		if q == "" {
			return chatIntent
		}
		intent := Intent{Kind: IntentSearch, Query: &q}
		if parsed.Region != nil {
			intent.Region = strings.TrimSpace(*parsed.Region)
		}
		return intent
	case IntentChat:
		return chatIntent
	default:
		log.Debug().Str("intent", parsed.Intent).Msg("Unknown intent, treating as chat")
		return chatIntent
	}
}
