package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// MockClient is a Client whose behavior is set per test.
type MockClient struct {
	CompleteFunc func(ctx context.Context, messages []Message) (string, error)
	StreamFunc   func(ctx context.Context, messages []Message, onChunk func(string) error) (string, error)
	// OfflineMode is returned by Offline.
	OfflineMode bool

	mu            sync.Mutex
	completeCalls int
	streamCalls   int
	lastMessages  []Message
}

// NewMockClient creates a mock that answers with an empty string.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Complete calls CompleteFunc.
func (m *MockClient) Complete(ctx context.Context, messages []Message) (string, error) {
	m.record(messages, false)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, messages)
	}
	return "", nil
}

// Stream calls StreamFunc, or emits the Complete result as one chunk.
func (m *MockClient) Stream(ctx context.Context, messages []Message, onChunk func(string) error) (string, error) {
	m.record(messages, true)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, messages, onChunk)
	}
	text := ""
	if m.CompleteFunc != nil {
		var err error
		if text, err = m.CompleteFunc(ctx, messages); err != nil {
			return "", err
		}
	}
	if text != "" {
		if err := onChunk(text); err != nil {
			return text, err
		}
	}
	return text, nil
}

// Model returns "mock".
func (m *MockClient) Model() string { return "mock" }

func (m *MockClient) Offline() bool { return m.OfflineMode }

// CompleteCalls returns the number of Complete calls.
func (m *MockClient) CompleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completeCalls
}

// StreamCalls returns the number of Stream calls.
func (m *MockClient) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// LastMessages returns the messages of the most recent call.
func (m *MockClient) LastMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.lastMessages...)
}

func (m *MockClient) record(messages []Message, stream bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stream {
		m.streamCalls++
	} else {
		m.completeCalls++
	}
	m.lastMessages = append([]Message(nil), messages...)
}

// DevClient answers without a model. It recognizes food searches by keyword
// so local development exercises both chat paths.
type DevClient struct {
	keywords []string
}

// NewDevClient creates a DevClient with a small food vocabulary.
func NewDevClient() *DevClient {
	return &DevClient{keywords: []string{
		"burger", "burrito", "curry", "dumpling", "noodle", "pho", "pizza",
		"ramen", "salad", "sandwich", "snack", "sushi", "taco", "tacos",
		"coffee", "dessert", "bbq", "chicken", "pasta", "bakery",
	}}
}

// Model returns "dev".
func (d *DevClient) Model() string { return "dev" }

// Offline is always true.
func (d *DevClient) Offline() bool { return true }

// Complete answers intent prompts with JSON and anything else with a canned reply.
func (d *DevClient) Complete(_ context.Context, messages []Message) (string, error) {
	user := lastUserText(messages)
	if !isIntentPrompt(messages) {
		return fmt.Sprintf("You said: %q. Connect a language model to get real answers.", user), nil
	}
	if q := d.match(user); q != "" {
		if region := regionOf(user); region != "" {
			return fmt.Sprintf(`{"intent": "SEARCH", "query": %q, "region": %q}`, q, region), nil
		}
		return fmt.Sprintf(`{"intent": "SEARCH", "query": %q}`, q), nil
	}
	return `{"intent": "CHAT", "query": null}`, nil
}

// Stream emits the Complete reply word by word.
func (d *DevClient) Stream(ctx context.Context, messages []Message, onChunk func(string) error) (string, error) {
	text, err := d.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return text, err
		}
		if err := onChunk(w); err != nil {
			return text, err
		}
	}
	return text, nil
}

func (d *DevClient) match(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, f := range fields {
		for _, k := range d.keywords {
			if f == k {
				return f
			}
		}
	}
	return ""
}

// regionOf returns the words after the last " in " or " near ", unless they
// are "me".
func regionOf(text string) string {
	lower := strings.ToLower(text)
	at := -1
	for _, marker := range []string{" in ", " near "} {
		if i := strings.LastIndex(lower, marker); i >= 0 && i+len(marker) > at {
			at = i + len(marker)
		}
	}
	if at < 0 {
		return ""
	}
	region := strings.TrimFunc(text[at:], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if strings.EqualFold(region, "me") {
		return ""
	}
	return region
}

func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func isIntentPrompt(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleSystem && strings.Contains(m.Content, `"intent"`) {
			return true
		}
	}
	return false
}
