package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Frame literals shared between server and client.
const (
	FramePing     = "ping"
	FramePong     = "pong"
	FrameComplete = "__COMPLETE__"
)

// ClientCommand is the structured payload a client may send instead of free
// text. Anything that fails to parse as JSON is treated as free text.
type ClientCommand struct {
	Action string `json:"action,omitempty"` // "switch_bot"
	BotID  string `json:"bot_id,omitempty"`
	Text   string `json:"text,omitempty"`
}

// BotSwitchedAck acknowledges a persona switch.
type BotSwitchedAck struct {
	Type string  `json:"type"` // "bot_switched"
	Bot  Persona `json:"bot"`
}

// UserConnection represents a single live WebSocket connection.
// All outbound text frames go through WriteChan; the connection's write
// goroutine is the only writer of data frames, and Mutex serializes the
// protocol-level pings against it.
type UserConnection struct {
	ConnID    string
	Identity  string
	ClientIP  string
	Conn      *websocket.Conn
	WriteChan chan string
	Mutex     sync.Mutex
	CreatedAt time.Time
}
