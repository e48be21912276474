// Package chatserver is the server side of the NPC agent chat protocol.
//
// [Handler] upgrades HTTP requests to WebSocket connections, decodes each
// user frame and answers with agent frames produced by a [Responder].
package chatserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/npcforge/internal/chat"
	"github.com/MrWong99/npcforge/internal/observe"
)

const (
	defaultReadLimit    = 32 << 10
	defaultReplyTimeout = 10 * time.Second

	// msgFailed is sent when the responder returns an error.
	msgFailed = "Sorry, I couldn't process that request."
)

// Responder produces the agent replies to one user message. Each returned
// string is sent as its own frame, in order.
type Responder interface {
	Respond(ctx context.Context, text string) ([]string, error)
}

// ResponderFunc adapts a function to [Responder].
type ResponderFunc func(ctx context.Context, text string) ([]string, error)

// Respond implements [Responder].
func (f ResponderFunc) Respond(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}

// Option is a functional option for [Handler].
type Option func(*Handler)

// WithMetrics records frame counters and the active session gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithReadLimit caps the size of inbound frames. Default: 32 KiB. Values
// below one keep the default.
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithOriginPatterns allows cross-origin upgrades from hosts matching the
// given patterns (see websocket.AcceptOptions).
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) {
		h.originPatterns = patterns
	}
}

// Handler serves the chat WebSocket endpoint. It implements [http.Handler].
type Handler struct {
	responder      Responder
	metrics        *observe.Metrics
	readLimit      int64
	originPatterns []string

	mu       sync.Mutex
	sessions map[*websocket.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewHandler creates a [Handler] answering with r.
func NewHandler(r Responder, opts ...Option) *Handler {
	h := &Handler{
		responder: r,
		readLimit: defaultReadLimit,
		sessions:  make(map[*websocket.Conn]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the session until the client
// disconnects or [Handler.Close] is called.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("chat upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(h.readLimit)

	if !h.track(conn) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.untrack(conn)

	// The request context is cancelled once ServeHTTP returns; the session
	// context only ends when the connection does.
	ctx := context.WithoutCancel(r.Context())
	h.metrics.SessionOpened(ctx)
	defer h.metrics.SessionClosed(ctx)

	slog.Info("chat session opened", "remote", r.RemoteAddr)
	err = h.serve(ctx, conn)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		slog.Info("chat session closed", "remote", r.RemoteAddr)
	default:
		slog.Warn("chat session ended", "remote", r.RemoteAddr, "error", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// serve reads frames until the connection fails and returns that error.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		h.metrics.RecordFrameReceived(ctx, "server")
		if typ != websocket.MessageText {
			h.drop(ctx, "binary frame")
			continue
		}
		frame, _, err := chat.DecodeOutbound(data)
		if err != nil {
			h.drop(ctx, err.Error())
			continue
		}
		if strings.TrimSpace(frame.Message) == "" {
			h.drop(ctx, "empty message")
			continue
		}

		if err := h.reply(ctx, conn, frame.Message); err != nil {
			return err
		}
	}
}

func (h *Handler) reply(ctx context.Context, conn *websocket.Conn, text string) error {
	rctx, cancel := context.WithTimeout(ctx, defaultReplyTimeout)
	defer cancel()

	replies, err := h.responder.Respond(rctx, text)
	if err != nil {
		observe.Logger(ctx).Error("chat responder failed", "error", err)
		replies = []string{msgFailed}
	}
	for _, content := range replies {
		data, err := chat.EncodeInbound(chat.RoleAgent, content)
		if err != nil {
			return err
		}
		if err := conn.Write(rctx, websocket.MessageText, data); err != nil {
			return err
		}
		h.metrics.RecordMessageSent(ctx, "server")
	}
	return nil
}

func (h *Handler) drop(ctx context.Context, reason string) {
	slog.Debug("chat dropping frame", "reason", reason)
	h.metrics.RecordFrameDropped(ctx, "server")
}

func (h *Handler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[conn] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.sessions, conn)
	h.mu.Unlock()
	h.wg.Done()
}

// Sessions returns the number of open sessions.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close rejects new sessions, closes every open one with StatusGoingAway
// and waits for their goroutines to finish. http.Server.Shutdown does not
// track hijacked connections, so the app calls this during shutdown.
func (h *Handler) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.sessions))
	for c := range h.sessions {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
	h.wg.Wait()
	return nil
}
