package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeInbound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		wantOK   bool
		wantRole Role
		wantText string
	}{
		{name: "agent", in: `{"type":"agent","content":"hi"}`, wantOK: true, wantRole: RoleAgent, wantText: "hi"},
		{name: "user", in: `{"type":"user","content":"hello"}`, wantOK: true, wantRole: RoleUser, wantText: "hello"},
		{name: "unknown type is agent", in: `{"type":"system","content":"x"}`, wantOK: true, wantRole: RoleAgent, wantText: "x"},
		{name: "non-string type is agent", in: `{"type":7,"content":"x"}`, wantOK: true, wantRole: RoleAgent, wantText: "x"},
		{name: "content kept untrimmed", in: `{"type":"agent","content":"  padded "}`, wantOK: true, wantRole: RoleAgent, wantText: "  padded "},
		{name: "blank content", in: `{"type":"user","content":"  "}`},
		{name: "empty content", in: `{"type":"agent","content":""}`},
		{name: "missing content", in: `{"type":"agent"}`},
		{name: "numeric content", in: `{"type":"agent","content":42}`},
		{name: "missing type", in: `{"content":"hi"}`},
		{name: "empty type", in: `{"type":"","content":"hi"}`},
		{name: "false type", in: `{"type":false,"content":"hi"}`},
		{name: "not json", in: `not json`},
		{name: "json array", in: `["agent","hi"]`},
		{name: "empty frame", in: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, ok := DecodeInbound([]byte(tt.in))
			if ok != tt.wantOK {
				t.Fatalf("DecodeInbound(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if m.Role != tt.wantRole || m.Content != tt.wantText {
				t.Errorf("DecodeInbound(%q) = {%s %q}, want {%s %q}", tt.in, m.Role, m.Content, tt.wantRole, tt.wantText)
			}
		})
	}
}

func TestEncodeOutbound(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.FixedZone("CET", 3600))
	data, err := EncodeOutbound("list", at)
	if err != nil {
		t.Fatalf("EncodeOutbound: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("frame has %d keys, want 2: %s", len(got), data)
	}
	if got["message"] != "list" {
		t.Errorf("message = %q", got["message"])
	}
	if got["timestamp"] != "2026-03-04T04:06:07.890Z" {
		t.Errorf("timestamp = %q, want UTC ISO-8601 with millis", got["timestamp"])
	}

	f, parsed, err := DecodeOutbound(data)
	if err != nil {
		t.Fatalf("DecodeOutbound: %v", err)
	}
	if f.Message != "list" || !parsed.Equal(at) {
		t.Errorf("DecodeOutbound = %q at %v, want list at %v", f.Message, parsed, at)
	}
}

func TestDecodeOutbound_Errors(t *testing.T) {
	t.Parallel()

	if _, _, err := DecodeOutbound([]byte("{")); err == nil {
		t.Error("truncated frame: expected error")
	}
	f, at, err := DecodeOutbound([]byte(`{"message":"hi","timestamp":"yesterday"}`))
	if err != nil {
		t.Fatalf("DecodeOutbound: %v", err)
	}
	if f.Message != "hi" || !at.IsZero() {
		t.Errorf("got %q at %v, want hi at zero time", f.Message, at)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Open:         "open",
		Closing:      "closing",
		State(42):    "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
