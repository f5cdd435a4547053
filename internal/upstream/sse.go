package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatgate/internal/models"
)

// SSE event names used by the upstream chat API.
const (
	sseEventDelta     = "conversation.message.delta"
	sseEventCompleted = "conversation.chat.completed"
	sseEventFailed    = "conversation.chat.failed"
	sseDone           = "[DONE]"
)

// SSEClient streams chat completions from an HTTP SSE endpoint. One instance
// serves all credentials; the per-request credential picks the API key. The
// credential map is swapped wholesale on hot reload, so reads and the swap
// share a lock.
type SSEClient struct {
	httpClient  *http.Client
	mu          sync.RWMutex
	credentials map[string]models.Credential
}

// NewSSEClient builds a client over the configured credentials.
func NewSSEClient(credentials []models.Credential) *SSEClient {
	creds := make(map[string]models.Credential, len(credentials))
	for _, c := range credentials {
		creds[c.Key] = c
	}
	return &SSEClient{
		// No overall timeout: streams legitimately run for minutes. The
		// caller's ctx bounds the request instead.
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   10,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		credentials: creds,
	}
}

// SetCredentials swaps the credential set (hot reload).
func (c *SSEClient) SetCredentials(credentials []models.Credential) {
	creds := make(map[string]models.Credential, len(credentials))
	for _, cred := range credentials {
		creds[cred.Key] = cred
	}
	c.mu.Lock()
	c.credentials = creds
	c.mu.Unlock()
}

type chatRequestBody struct {
	BotID          string           `json:"bot_id"`
	UserID         string           `json:"user_id"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Stream         bool             `json:"stream"`
	Messages       []models.Message `json:"additional_messages"`
}

type deltaPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completedPayload struct {
	ConversationID string `json:"conversation_id"`
	LastError      struct {
		Code    int    `json:"code"`
		Message string `json:"msg"`
	} `json:"last_error"`
}

// OpenStream posts the chat request and returns a channel of stream events.
// The channel closes after the terminal event or when ctx is cancelled.
func (c *SSEClient) OpenStream(ctx context.Context, req Request) (<-chan Event, error) {
	c.mu.RLock()
	cred, ok := c.credentials[req.Credential]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown credential %q", req.Credential)
	}

	body, err := json.Marshal(chatRequestBody{
		BotID:          req.BotID,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Stream:         true,
		Messages:       req.Messages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(cred.BaseURL, "/")+"/v3/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(snippet))
	}

	events := make(chan Event)
	go c.readStream(ctx, resp.Body, req, events)
	return events, nil
}

// readStream parses the SSE body and translates it into Events. It always
// emits exactly one terminal event before closing the channel, unless ctx
// was cancelled first.
func (c *SSEClient) readStream(ctx context.Context, body io.ReadCloser, req Request, events chan<- Event) {
	defer close(events)
	defer body.Close()

	// Close the body when ctx is cancelled so the scanner unblocks. The
	// watcher must also exit when the stream finishes normally, or every
	// completed turn would leave one goroutine pinned to the connection ctx.
	streamDone := make(chan struct{})
	defer close(streamDone)
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-streamDone:
		}
	}()

	scanner := bufio.NewScanner(body)

	// Increase buffer to 1MB for large SSE chunks (default is 64KB).
	const maxCapacity = 1024 * 1024
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	var (
		eventName      string
		conversationID = req.ConversationID
		lastMessage    models.Message
		completed      bool
	)

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == sseDone {
			break
		}

		switch eventName {
		case sseEventDelta:
			var delta deltaPayload
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				slog.Warn("skipping malformed delta event", "bot_id", req.BotID, "error", err)
				continue
			}
			if delta.Content == "" {
				continue
			}
			lastMessage.Role = "assistant"
			lastMessage.Content += delta.Content
			if !send(Event{Type: EventToken, Token: delta.Content}) {
				return
			}

		case sseEventCompleted:
			var done completedPayload
			if err := json.Unmarshal([]byte(data), &done); err != nil {
				send(Event{Type: EventError, Err: fmt.Errorf("malformed completion event: %w", err)})
				return
			}
			if done.ConversationID != "" {
				conversationID = done.ConversationID
			}
			completed = true

		case sseEventFailed:
			var done completedPayload
			_ = json.Unmarshal([]byte(data), &done)
			send(Event{Type: EventError, Err: fmt.Errorf("upstream chat failed: %s", done.LastError.Message)})
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(Event{Type: EventError, Err: fmt.Errorf("upstream stream read failed: %w", err)})
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !completed {
		send(Event{Type: EventError, Err: fmt.Errorf("upstream stream ended without completion")})
		return
	}

	send(Event{
		Type:           EventComplete,
		ConversationID: conversationID,
		Message:        lastMessage,
	})
}
