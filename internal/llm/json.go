package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a response contains no decodable JSON object.
var ErrNoJSON = errors.New("no valid JSON found in response")

const fence = "```"

// ExtractJSON finds the JSON object in a model reply. Models often wrap the
// object in a ``` or ```json fence and add prose around it, so the fenced
// body is searched first and then the whole reply. Within each, the first
// '{' that starts a complete object wins.
func ExtractJSON(response string) (string, error) {
	if body, ok := fencedBody(response); ok {
		if obj, ok := firstObject(body); ok {
			return obj, nil
		}
	}
	if obj, ok := firstObject(response); ok {
		return obj, nil
	}
	return "", ErrNoJSON
}

// ParseJSON extracts JSON from a response and unmarshals it into T.
func ParseJSON[T any](response string) (T, error) {
	var out T
	raw, err := ExtractJSON(response)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, err
	}
	return out, nil
}

// fencedBody returns the text of the first fenced block. The rest of the
// opening fence line is a language tag and is skipped.
func fencedBody(s string) (string, bool) {
	_, after, ok := strings.Cut(s, fence)
	if !ok {
		return "", false
	}
	if nl := strings.IndexByte(after, '\n'); nl >= 0 && !strings.Contains(after[:nl], "{") {
		after = after[nl+1:]
	}
	body, _, ok := strings.Cut(after, fence)
	if !ok {
		return "", false
	}
	return body, true
}

// firstObject lets the JSON decoder read one value from each '{' in turn.
// The decoder stops at the end of the first value, so trailing prose and
// braces inside strings need no special handling.
func firstObject(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		next := strings.IndexByte(s[i:], '{')
		if next < 0 {
			return "", false
		}
		i += next

		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&raw); err == nil {
			return string(raw), true
		}
	}
	return "", false
}
