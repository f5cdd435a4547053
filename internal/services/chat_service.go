package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"chatgate/internal/chatlog"
	"chatgate/internal/models"
	"chatgate/internal/upstream"
)

// SystemNotice is the single user-facing failure text. Upstream error
// detail is logged, never sent to the client.
const SystemNotice = "[system] Service temporarily unavailable, please try again later"

// ChatService orchestrates one chat turn: cache lookup, admission-controlled
// upstream call, incremental token forwarding, history update and cache
// population. One instance serves all connections.
type ChatService struct {
	connManager *ConnectionManager
	sessions    *SessionStore
	cache       *ResponseCache
	pool        *CredentialPool
	client      upstream.Client
	stats       *Stats
	rateLimiter *MessageRateLimiter
	chatLog     *chatlog.Writer

	replayChunkSize  int
	replayChunkDelay time.Duration
}

// NewChatService wires the dispatcher. rateLimiter and chatLog may be nil.
func NewChatService(
	connManager *ConnectionManager,
	sessions *SessionStore,
	cache *ResponseCache,
	pool *CredentialPool,
	client upstream.Client,
	stats *Stats,
	rateLimiter *MessageRateLimiter,
	chatLog *chatlog.Writer,
	replayChunkSize int,
	replayChunkDelay time.Duration,
) *ChatService {
	return &ChatService{
		connManager:      connManager,
		sessions:         sessions,
		cache:            cache,
		pool:             pool,
		client:           client,
		stats:            stats,
		rateLimiter:      rateLimiter,
		chatLog:          chatLog,
		replayChunkSize:  replayChunkSize,
		replayChunkDelay: replayChunkDelay,
	}
}

// ProcessFrame handles one inbound text frame: a persona-switch command, a
// JSON-wrapped text message, or verbatim free text. Heartbeats are handled
// by the connection read loop before reaching here. Runs inline in the read
// loop so turns stay strictly sequential per connection.
func (s *ChatService) ProcessFrame(ctx context.Context, userConn *models.UserConnection, raw string) {
	s.sessions.Touch(userConn.Identity)

	input := raw
	var cmd models.ClientCommand
	if err := json.Unmarshal([]byte(raw), &cmd); err == nil {
		if cmd.Action == "switch_bot" {
			s.switchPersona(userConn, cmd.BotID)
			return
		}
		if cmd.Text != "" {
			input = cmd.Text
		}
	}
	// Malformed JSON falls through: the raw frame is free-text chat input.

	s.runTurn(ctx, userConn, input)
}

// switchPersona applies a persona-switch command and acknowledges it. An
// unknown bot id mutates nothing and sends no acknowledgement.
func (s *ChatService) switchPersona(userConn *models.UserConnection, botID string) {
	persona, err := s.sessions.SwitchPersona(userConn.Identity, botID)
	if err != nil {
		slog.Warn("persona switch rejected", "identity", userConn.Identity, "bot_id", botID, "error", err)
		return
	}

	ack, err := json.Marshal(models.BotSwitchedAck{Type: "bot_switched", Bot: persona})
	if err != nil {
		slog.Error("failed to encode bot_switched ack", "error", err)
		return
	}
	s.connManager.Send(userConn.Identity, string(ack))
}

// runTurn drives the turn state machine for one free-text input.
func (s *ChatService) runTurn(ctx context.Context, userConn *models.UserConnection, input string) {
	identity := userConn.Identity
	log := slog.With("identity", identity, "conn_id", userConn.ConnID)

	s.stats.MessageProcessed()
	if m := GetMetrics(); m != nil {
		m.MessagesProcessed.Inc()
	}

	view := s.sessions.View(identity)

	if s.chatLog != nil {
		s.chatLog.Log(userConn.ClientIP, view.Persona.Name, input)
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, identity); err != nil {
			return // client went away while throttled
		}
	}

	key := CacheKey(identity, view.Persona.ID, input)
	if cached, ok := s.cache.Get(key); ok {
		s.stats.CacheHit()
		if m := GetMetrics(); m != nil {
			m.CacheHits.Inc()
		}
		log.Info("turn served from cache", "persona", view.Persona.ID)
		s.replayCached(ctx, identity, cached)
		return
	}

	// Cache miss: build the outbound message list. Without a conversation
	// handle the upstream has no context, so the capped history rides
	// along; with one, the upstream retains context and only the new
	// message is sent.
	userMessage := models.Message{Role: "user", Content: input}
	var messages []models.Message
	if view.ConversationHandle == "" {
		messages = append(messages, view.History...)
	}
	messages = append(messages, userMessage)

	permit, err := s.pool.Acquire(ctx, view.Persona.Credential)
	if err != nil {
		if errors.Is(err, ErrUnknownCredential) {
			// Configuration fault, not a transient upstream problem.
			log.Error("turn aborted", "error", err)
			s.failTurn(identity, "credential_config")
		}
		return // context cancelled while waiting for a permit
	}
	defer permit.Release()

	startedAt := s.stats.RequestStarted()
	if m := GetMetrics(); m != nil {
		m.APICalls.Inc()
	}
	defer func() {
		s.stats.RequestFinished(startedAt)
		if m := GetMetrics(); m != nil {
			m.TurnLatency.Observe(time.Since(startedAt).Seconds())
		}
	}()

	events, err := s.client.OpenStream(ctx, upstream.Request{
		BotID:          view.Persona.ID,
		UserID:         identity,
		ConversationID: view.ConversationHandle,
		Messages:       messages,
		Credential:     view.Persona.Credential,
	})
	if err != nil {
		log.Error("upstream open failed", "persona", view.Persona.ID, "error", err)
		s.failTurn(identity, "upstream_open")
		return
	}

	var fullResponse strings.Builder
	var completion *upstream.Event

	for ev := range events {
		switch ev.Type {
		case upstream.EventToken:
			fullResponse.WriteString(ev.Token)
			s.connManager.Send(identity, ev.Token)

		case upstream.EventComplete:
			completion = &upstream.Event{
				Type:           ev.Type,
				ConversationID: ev.ConversationID,
				Message:        ev.Message,
			}

		case upstream.EventError:
			log.Error("upstream stream failed", "persona", view.Persona.ID, "error", ev.Err)
			s.failTurn(identity, "upstream_stream")
			return
		}
	}

	if ctx.Err() != nil {
		// Client disconnected mid-turn: nothing is cached and the session
		// keeps its pre-turn state. The permit releases on return.
		log.Debug("turn aborted by disconnect", "persona", view.Persona.ID)
		return
	}
	if completion == nil {
		log.Error("upstream stream ended without completion", "persona", view.Persona.ID)
		s.failTurn(identity, "upstream_incomplete")
		return
	}

	s.connManager.Send(identity, models.FrameComplete)

	s.sessions.SetHandle(identity, completion.ConversationID)
	botMessage := completion.Message
	if botMessage.Content == "" {
		botMessage = models.Message{Role: "assistant", Content: fullResponse.String()}
	}
	s.sessions.AppendTurn(identity, userMessage, botMessage)

	if fullResponse.Len() > 0 {
		s.cache.Set(key, fullResponse.String())
	}
}

// replayCached streams a cached response back in small fixed-size chunks
// with a short delay, preserving the streaming feel, then completes the
// turn. No credential is consumed and neither history nor cache change.
func (s *ChatService) replayCached(ctx context.Context, identity, cached string) {
	runes := []rune(cached)
	for i := 0; i < len(runes); i += s.replayChunkSize {
		if ctx.Err() != nil {
			return
		}
		end := i + s.replayChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		s.connManager.Send(identity, string(runes[i:end]))
		time.Sleep(s.replayChunkDelay)
	}
	s.connManager.Send(identity, models.FrameComplete)
}

// failTurn emits the single user-facing notice and ends the turn. The
// completion marker still follows so a client gating its input on it is
// never left waiting.
func (s *ChatService) failTurn(identity, errorType string) {
	s.stats.ErrorOccurred()
	if m := GetMetrics(); m != nil {
		m.RecordTurnError(errorType)
	}
	s.connManager.Send(identity, SystemNotice)
	s.connManager.Send(identity, models.FrameComplete)
}
