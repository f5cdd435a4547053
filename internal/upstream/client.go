// Package upstream talks to the conversational-AI API that actually produces
// bot replies. The gateway only depends on the Client interface; the SSE
// implementation lives in sse.go.
package upstream

import (
	"context"

	"chatgate/internal/models"
)

// EventType discriminates stream events.
type EventType string

const (
	EventToken    EventType = "token"    // one incremental content delta
	EventComplete EventType = "complete" // the turn finished
	EventError    EventType = "error"    // the stream failed
)

// Event is one element of an upstream response stream.
type Event struct {
	Type  EventType
	Token string

	// Set on EventComplete.
	ConversationID string
	Message        models.Message

	// Set on EventError.
	Err error
}

// Request describes one outbound chat turn.
type Request struct {
	BotID          string
	UserID         string
	ConversationID string // empty starts a fresh upstream conversation
	Messages       []models.Message
	Credential     string
}

// Client opens a lazily-produced, cancellable stream of chat events.
// The returned channel is closed after the terminal event (complete or
// error); cancelling ctx tears the stream down and closes the channel.
type Client interface {
	OpenStream(ctx context.Context, req Request) (<-chan Event, error)
}
