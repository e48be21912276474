package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/npcforge/internal/observe"
)

// Default channel parameters.
const (
	DefaultURL              = "ws://localhost:8000/ws"
	DefaultGreeting         = "Connected to NPC Agent. How can I help you today?"
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxRetries       = 5
	defaultBackoff          = 1 * time.Second
	defaultMaxBackoff       = 30 * time.Second
)

// Locally generated diagnostics appended to the history.
const (
	MsgSendFailed     = "Error sending message. Please try again."
	MsgConnectionLost = "Connection lost. Attempting to reconnect..."
)

var (
	// ErrConnectionUnavailable is returned by [Channel.Send] when the channel
	// is not open. A reconnect has been scheduled by the time it is returned.
	ErrConnectionUnavailable = errors.New("chat: connection unavailable")

	// ErrClosed is returned by operations on a channel after
	// [Channel.Teardown].
	ErrClosed = errors.New("chat: channel torn down")
)

// Config configures a [Channel].
type Config struct {
	// URL is the WebSocket endpoint. Defaults to [DefaultURL].
	URL string

	// HandshakeTimeout bounds each dial. Defaults to 10s.
	HandshakeTimeout time.Duration

	// ReadTimeout bounds the wait for the next inbound frame. A connection
	// that stays silent longer is treated as lost. Zero disables it.
	ReadTimeout time.Duration

	// ReadLimit caps the size of an inbound frame in bytes. Zero keeps the
	// websocket library default.
	ReadLimit int64

	// Greeting is appended as a local agent message every time a connection
	// opens. Defaults to [DefaultGreeting].
	Greeting string

	// AutoReconnect starts the reconnect loop when an open connection drops.
	// Send always schedules a reconnect regardless of this flag.
	AutoReconnect bool

	// MaxRetries is the maximum number of dial attempts per reconnect loop.
	// Defaults to 5 if zero.
	MaxRetries int

	// Backoff is the initial wait between failed attempts. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnMessage is called after a message is appended to the history, from
	// the goroutine that appended it. May be nil. It must not block for long
	// because inbound frames are processed sequentially.
	OnMessage func(Message)

	// OnStateChange is called after every state transition. May be nil.
	OnStateChange func(State)

	// Metrics records frame and reconnect counters. May be nil.
	Metrics *observe.Metrics

	// Clock stamps messages and outbound frames. Defaults to time.Now.
	Clock func() time.Time
}

// Channel is a best-effort duplex chat connection.
//
// State machine:
//
//	Disconnected --Connect--> Connecting --ok--> Open
//	Connecting --dial error--> Disconnected
//	Open --remote close / read or write error--> Disconnected
//	any --Teardown--> Closing --> Disconnected (terminal)
//
// Inbound frames are handled by a single reader goroutine per connection,
// so the history preserves arrival order. All methods are safe for
// concurrent use.
type Channel struct {
	cfg Config

	// life is cancelled by Teardown; it aborts pending dials, reads and
	// reconnect waits.
	life   context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	gen          uint64 // incremented per connection; stale readers compare against it
	messages     []Message
	reconnecting bool
	closed       bool

	wg sync.WaitGroup // reader and reconnect goroutines
}

// New creates a [Channel] in the Disconnected state. No connection is made
// until [Channel.Connect] is called.
func New(cfg Config) *Channel {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	life, cancel := context.WithCancel(context.Background())
	return &Channel{
		cfg:    cfg,
		life:   life,
		cancel: cancel,
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the channel is open.
func (c *Channel) Connected() bool {
	return c.State() == Open
}

// Messages returns a snapshot of the history in arrival order.
func (c *Channel) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Connect dials the endpoint and blocks until the handshake completes or
// fails. It is a no-op returning nil while the channel is Connecting or
// Open, so at most one underlying connection exists at a time. On success
// the greeting is appended to the history. After [Channel.Teardown] it
// returns [ErrClosed].
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connecting || c.state == Open {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()
	c.notifyState(Connecting)

	return c.dial(ctx)
}

// dial performs the handshake for a channel already marked Connecting.
func (c *Channel) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	conn, _, err := websocket.Dial(dctx, c.cfg.URL, nil)
	if err != nil {
		c.mu.Lock()
		changed := c.state == Connecting
		if changed {
			c.state = Disconnected
		}
		c.mu.Unlock()
		if changed {
			c.notifyState(Disconnected)
		}
		if c.life.Err() != nil {
			return ErrClosed
		}
		return fmt.Errorf("chat: dial %s: %w", c.cfg.URL, err)
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client teardown")
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.state = Open
	greeting := c.appendLocked(Message{Role: RoleAgent, Content: c.cfg.Greeting, Local: true})
	c.wg.Add(1)
	c.mu.Unlock()

	slog.Info("chat connected", "url", c.cfg.URL)
	c.notifyState(Open)
	c.notifyMessage(greeting)

	go c.readLoop(conn, gen)
	return nil
}

// Send transmits text to the agent. Blank text is ignored.
//
// When the channel is open the text is appended to the history as a user
// message before the frame is written; the agent's echo is not awaited. If
// the write fails a local error message is appended, the connection is
// dropped and a reconnect is scheduled.
//
// When the channel is not open a local "connection lost" message is
// appended, a reconnect is scheduled and [ErrConnectionUnavailable] is
// returned.
func (c *Channel) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Open {
		m := c.appendLocked(Message{Role: RoleAgent, Content: MsgConnectionLost, Local: true})
		c.mu.Unlock()
		c.notifyMessage(m)
		slog.Info("chat not connected, attempting to reconnect", "url", c.cfg.URL)
		c.scheduleReconnect()
		return ErrConnectionUnavailable
	}
	conn, gen := c.conn, c.gen
	now := c.cfg.Clock()
	m := c.appendLocked(Message{Role: RoleUser, Content: text, At: now})
	c.mu.Unlock()
	c.notifyMessage(m)

	payload, err := EncodeOutbound(text, now)
	if err == nil {
		err = conn.Write(ctx, websocket.MessageText, payload)
	}
	if err != nil {
		slog.Warn("chat send failed", "url", c.cfg.URL, "error", err)
		c.mu.Lock()
		em := c.appendLocked(Message{Role: RoleAgent, Content: MsgSendFailed, Local: true})
		c.mu.Unlock()
		c.notifyMessage(em)
		c.connectionLost(conn, gen, err)
		c.scheduleReconnect()
		return fmt.Errorf("chat: send: %w", err)
	}
	c.cfg.Metrics.RecordMessageSent(c.life, "client")
	return nil
}

// HandleFrame decodes one inbound frame and appends it to the history.
// Malformed frames are dropped silently and reported as false.
func (c *Channel) HandleFrame(data []byte) bool {
	c.cfg.Metrics.RecordFrameReceived(c.life, "client")
	m, ok := DecodeInbound(data)
	if !ok {
		slog.Debug("chat dropping malformed frame", "bytes", len(data))
		c.cfg.Metrics.RecordFrameDropped(c.life, "client")
		return false
	}
	c.mu.Lock()
	m = c.appendLocked(m)
	c.mu.Unlock()
	c.notifyMessage(m)
	return true
}

// Teardown closes the connection with a normal closure, cancels any pending
// dial and stops the reconnect loop. The channel ends Disconnected and
// cannot be reused: later Connect and Send calls return [ErrClosed]. Safe
// to call multiple times, but not from OnMessage or OnStateChange, since it
// waits for the reader goroutine to exit.
func (c *Channel) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = Closing
	c.mu.Unlock()
	c.notifyState(Closing)

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client teardown"); err != nil {
			slog.Debug("chat close", "url", c.cfg.URL, "error", err)
		}
	}
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
	c.notifyState(Disconnected)
	slog.Info("chat torn down", "url", c.cfg.URL)
}

// readLoop receives frames from conn until it fails.
func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	defer c.wg.Done()
	for {
		data, err := c.read(conn)
		if err != nil {
			if c.connectionLost(conn, gen, err) && c.cfg.AutoReconnect {
				c.scheduleReconnect()
			}
			return
		}
		c.HandleFrame(data)
	}
}

func (c *Channel) read(conn *websocket.Conn) ([]byte, error) {
	ctx := c.life
	if c.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ReadTimeout)
		defer cancel()
	}
	_, data, err := conn.Read(ctx)
	return data, err
}

// connectionLost moves the channel to Disconnected if conn is still the
// current connection and reports whether it did.
func (c *Channel) connectionLost(conn *websocket.Conn, gen uint64, cause error) bool {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	_ = conn.CloseNow()
	if status := websocket.CloseStatus(cause); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		slog.Info("chat disconnected", "url", c.cfg.URL, "status", status)
	} else {
		slog.Warn("chat connection lost", "url", c.cfg.URL, "error", cause)
	}
	c.notifyState(Disconnected)
	return true
}

// scheduleReconnect starts the reconnect loop unless one is already running
// or the channel has been torn down.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reconnecting {
		return
	}
	c.reconnecting = true
	c.wg.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop dials with exponential backoff until the channel is open,
// MaxRetries attempts have failed, or the channel is torn down. It exits
// early when another caller connects first.
func (c *Channel) reconnectLoop() {
	defer c.wg.Done()

	currentBackoff := c.cfg.Backoff
	attempt := 0
	for {
		c.mu.Lock()
		if c.closed || c.state != Disconnected || attempt >= c.cfg.MaxRetries {
			exhausted := !c.closed && c.state == Disconnected
			c.reconnecting = false
			c.mu.Unlock()
			if exhausted {
				slog.Error("chat reconnection failed after max retries",
					"url", c.cfg.URL,
					"max_retries", c.cfg.MaxRetries,
				)
			}
			return
		}
		c.state = Connecting
		c.mu.Unlock()
		c.notifyState(Connecting)

		attempt++
		slog.Info("chat attempting reconnection",
			"url", c.cfg.URL,
			"attempt", attempt,
			"max_retries", c.cfg.MaxRetries,
			"backoff", currentBackoff,
		)

		err := c.dial(c.life)
		if err == nil {
			c.cfg.Metrics.RecordReconnect(c.life, "ok")
			slog.Info("chat reconnection successful", "url", c.cfg.URL, "attempt", attempt)
			// A connection that drops again right away restarts the budget.
			attempt = 0
			currentBackoff = c.cfg.Backoff
			continue
		}
		if errors.Is(err, ErrClosed) {
			continue
		}
		c.cfg.Metrics.RecordReconnect(c.life, "error")
		slog.Warn("chat reconnection attempt failed",
			"url", c.cfg.URL,
			"attempt", attempt,
			"error", err,
		)
		if attempt >= c.cfg.MaxRetries {
			continue
		}

		select {
		case <-c.life.Done():
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > c.cfg.MaxBackoff {
			currentBackoff = c.cfg.MaxBackoff
		}
	}
}

// appendLocked stamps m if needed and appends it. c.mu must be held.
func (c *Channel) appendLocked(m Message) Message {
	if m.At.IsZero() {
		m.At = c.cfg.Clock()
	}
	c.messages = append(c.messages, m)
	return m
}

func (c *Channel) notifyMessage(m Message) {
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(m)
	}
}

func (c *Channel) notifyState(s State) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}
