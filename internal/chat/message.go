// Package chat implements the client side of the NPC agent chat: a
// WebSocket [Channel] that owns the connection lifecycle, reconnects with
// bounded exponential backoff, and keeps the ordered message history shown
// to the user.
package chat

import "time"

// State is the connection state of a [Channel].
type State int32

const (
	// Disconnected means no connection exists and none is being dialled.
	Disconnected State = iota
	// Connecting means a WebSocket handshake is in flight.
	Connecting
	// Open means frames can be sent and received.
	Open
	// Closing means the channel is being torn down.
	Closing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Role identifies who a chat message belongs to.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// NormalizeRole maps a wire "type" value to a [Role]. Only the literal
// "user" is a user message; everything else is attributed to the agent.
func NormalizeRole(t string) Role {
	if t == string(RoleUser) {
		return RoleUser
	}
	return RoleAgent
}

// Message is one entry of the chat history.
type Message struct {
	Role    Role
	Content string

	// At is the local time the message entered the history.
	At time.Time

	// Local is true for messages generated by the client itself (greeting,
	// connection diagnostics) rather than typed by the user or received.
	Local bool
}
