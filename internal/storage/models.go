// Package storage provides the chat thread and message repositories.
package storage

import (
	"encoding/json"
	"time"
)

// Role identifies who wrote a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TitleMaxRunes bounds the default thread title taken from the first message.
const TitleMaxRunes = 50

// Thread represents a persisted chat conversation.
type Thread struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Message represents one immutable chat message.
type Message struct {
	ID                    string          `json:"id"`
	ThreadID              string          `json:"threadId"`
	UserID                string          `json:"userId"`
	Role                  Role            `json:"role"`
	Text                  string          `json:"text"`
	CreatedAt             time.Time       `json:"createdAt"`
	RecommendationPayload json.RawMessage `json:"recommendationPayload,omitempty"`
}

// History is a thread's messages with recommendation payloads moved into a
// map keyed by message id.
type History struct {
	Messages                   []Message                  `json:"messages"`
	RecommendationsByMessageID map[string]json.RawMessage `json:"recommendationsByMessageId"`
}

// TitleFrom returns the default title for a thread started with text.
func TitleFrom(text string) string {
	r := []rune(text)
	if len(r) > TitleMaxRunes {
		r = r[:TitleMaxRunes]
	}
	return string(r)
}
