package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 layout of the outbound "timestamp" field,
// always rendered in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Outbound is the client → server frame.
type Outbound struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Inbound is the server → client frame.
type Inbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// EncodeOutbound renders the frame sent for a user message typed at at.
func EncodeOutbound(text string, at time.Time) ([]byte, error) {
	data, err := json.Marshal(Outbound{Message: text, Timestamp: at.UTC().Format(TimestampLayout)})
	if err != nil {
		return nil, fmt.Errorf("chat: encode frame: %w", err)
	}
	return data, nil
}

// EncodeInbound renders a server → client frame.
func EncodeInbound(role Role, content string) ([]byte, error) {
	data, err := json.Marshal(Inbound{Type: string(role), Content: content})
	if err != nil {
		return nil, fmt.Errorf("chat: encode frame: %w", err)
	}
	return data, nil
}

// DecodeInbound parses a server → client frame. It reports false for frames
// that must be dropped: invalid JSON, a missing or falsy "type", or a
// "content" that is not a string or is blank after trimming. Content is
// returned untrimmed.
func DecodeInbound(data []byte) (Message, bool) {
	var raw struct {
		Type    any `json:"type"`
		Content any `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, false
	}
	if !truthy(raw.Type) {
		return Message{}, false
	}
	content, ok := raw.Content.(string)
	if !ok || strings.TrimSpace(content) == "" {
		return Message{}, false
	}
	typ, _ := raw.Type.(string)
	return Message{Role: NormalizeRole(typ), Content: content}, true
}

// DecodeOutbound parses a client → server frame. The timestamp is optional;
// an unparseable one yields the zero time.
func DecodeOutbound(data []byte) (Outbound, time.Time, error) {
	var f Outbound
	if err := json.Unmarshal(data, &f); err != nil {
		return Outbound{}, time.Time{}, fmt.Errorf("chat: decode frame: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, f.Timestamp)
	if err != nil {
		at = time.Time{}
	}
	return f, at, nil
}

// truthy reports whether a decoded JSON value would count as set: not null,
// false, zero or the empty string.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
