package handlers

import (
	"context"
	"log/slog"
	"time"

	"chatgate/internal/logging"
	"chatgate/internal/models"
	"chatgate/internal/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	readDeadline   = 360 * time.Second
	pingInterval   = 30 * time.Second
	writeChanDepth = 100
)

// WebSocketHandler owns the lifecycle of chat connections: registration,
// the read/write/ping goroutines, and frame dispatch into the chat service.
type WebSocketHandler struct {
	connManager *services.ConnectionManager
	chatService *services.ChatService
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(connManager *services.ConnectionManager, chatService *services.ChatService) *WebSocketHandler {
	return &WebSocketHandler{
		connManager: connManager,
		chatService: chatService,
	}
}

// Handle runs for the lifetime of one WebSocket connection. The read loop
// dispatches each chat turn inline, so a connection's turns are strictly
// sequential; only heartbeats bypass the pipeline.
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	identity, _ := c.Locals("user_id").(string)
	clientIP, _ := c.Locals("client_ip").(string)
	log := logging.WithConnection(connID, identity, clientIP)

	userConn := &models.UserConnection{
		ConnID:    connID,
		Identity:  identity,
		ClientIP:  clientIP,
		Conn:      c,
		WriteChan: make(chan string, writeChanDepth),
		CreatedAt: time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	h.connManager.Register(userConn)
	log.Info("websocket connected")

	defer func() {
		cancel()
		close(done)
		h.connManager.Unregister(identity, connID)
		log.Info("websocket disconnected")
	}()

	c.SetReadDeadline(time.Now().Add(readDeadline))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go h.pingLoop(userConn, done, cancel)
	go h.writeLoop(userConn, done, cancel)

	h.readLoop(ctx, userConn)
}

// readLoop consumes inbound frames until the connection drops.
func (h *WebSocketHandler) readLoop(ctx context.Context, userConn *models.UserConnection) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in read loop", "conn_id", userConn.ConnID, "panic", r)
		}
	}()

	for {
		_, msg, err := userConn.Conn.ReadMessage()
		if err != nil {
			slog.Debug("websocket read ended", "conn_id", userConn.ConnID, "error", err)
			return
		}
		userConn.Conn.SetReadDeadline(time.Now().Add(readDeadline))

		raw := string(msg)
		if raw == models.FramePing {
			// Heartbeat answered immediately, never enters the turn pipeline.
			select {
			case userConn.WriteChan <- models.FramePong:
			default:
			}
			continue
		}

		h.chatService.ProcessFrame(ctx, userConn, raw)
	}
}

// writeLoop is the sole writer of data frames for this connection. A write
// failure means the client is gone, so the connection context is cancelled
// to abort any turn still streaming; the read loop only notices a disconnect
// between turns.
func (h *WebSocketHandler) writeLoop(userConn *models.UserConnection, done <-chan struct{}, cancel context.CancelFunc) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in write loop", "conn_id", userConn.ConnID, "panic", r)
		}
	}()

	for {
		select {
		case <-done:
			return
		case text := <-userConn.WriteChan:
			userConn.Mutex.Lock()
			err := userConn.Conn.WriteMessage(websocket.TextMessage, []byte(text))
			userConn.Mutex.Unlock()
			if err != nil {
				slog.Debug("websocket write failed", "conn_id", userConn.ConnID, "error", err)
				cancel()
				return
			}
		}
	}
}

// pingLoop keeps the connection alive across idle periods. A failed ping is
// a dead peer, so it also cancels the connection context.
func (h *WebSocketHandler) pingLoop(userConn *models.UserConnection, done <-chan struct{}, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			userConn.Mutex.Lock()
			err := userConn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			userConn.Mutex.Unlock()
			if err != nil {
				slog.Debug("ping failed", "conn_id", userConn.ConnID, "error", err)
				cancel()
				return
			}
		}
	}
}
