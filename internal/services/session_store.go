package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatgate/internal/models"
)

// Session is the per-identity conversation state. Fields are guarded by the
// session's own mutex; callers go through SessionStore methods and never
// hold the lock across an upstream call.
type Session struct {
	mu sync.Mutex

	persona            models.Persona
	conversationHandle string // empty means "start fresh"
	history            []models.Message
	lastActivity       time.Time
}

// SessionView is a consistent copy of the mutable session state, taken
// under the session lock for use outside it.
type SessionView struct {
	Persona            models.Persona
	ConversationHandle string
	History            []models.Message
}

// SessionStore holds one session per client identity and the persona
// registry sessions select from. Sessions are created lazily with the
// default persona and reaped after a fixed idle period.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	personaMu sync.RWMutex
	personas  map[string]models.Persona
	defaultID string

	historyCap  int
	idleTimeout time.Duration
}

// NewSessionStore creates a store over the configured personas. The first
// persona is the default for new sessions.
func NewSessionStore(personas []models.Persona, historyCap int, idleTimeout time.Duration) (*SessionStore, error) {
	if len(personas) == 0 {
		return nil, fmt.Errorf("session store needs at least one persona")
	}
	s := &SessionStore{
		sessions:    make(map[string]*Session),
		personas:    make(map[string]models.Persona, len(personas)),
		defaultID:   personas[0].ID,
		historyCap:  historyCap,
		idleTimeout: idleTimeout,
	}
	for _, p := range personas {
		s.personas[p.ID] = p
	}
	return s, nil
}

// SetPersonas replaces the persona registry (hot reload). Existing sessions
// keep their current persona; only lookups for new switches change.
func (s *SessionStore) SetPersonas(personas []models.Persona) error {
	if len(personas) == 0 {
		return fmt.Errorf("persona reload with empty bot list rejected")
	}
	s.personaMu.Lock()
	defer s.personaMu.Unlock()
	s.personas = make(map[string]models.Persona, len(personas))
	for _, p := range personas {
		s.personas[p.ID] = p
	}
	s.defaultID = personas[0].ID
	return nil
}

// Persona looks up a configured persona by id.
func (s *SessionStore) Persona(id string) (models.Persona, bool) {
	s.personaMu.RLock()
	defer s.personaMu.RUnlock()
	p, ok := s.personas[id]
	return p, ok
}

func (s *SessionStore) defaultPersona() models.Persona {
	s.personaMu.RLock()
	defer s.personaMu.RUnlock()
	return s.personas[s.defaultID]
}

// GetOrCreate returns the session for identity, creating it lazily with the
// default persona, empty history and no conversation handle.
func (s *SessionStore) GetOrCreate(identity string) *Session {
	s.mu.RLock()
	sess, exists := s.sessions[identity]
	s.mu.RUnlock()
	if exists {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, exists = s.sessions[identity]; exists {
		return sess
	}
	sess = &Session{
		persona:      s.defaultPersona(),
		lastActivity: time.Now(),
	}
	s.sessions[identity] = sess
	slog.Debug("session created", "identity", identity, "persona", sess.persona.ID)
	return sess
}

// Touch updates the session's last-activity time. Called on every inbound
// message so the idle reaper sees live identities.
func (s *SessionStore) Touch(identity string) {
	sess := s.GetOrCreate(identity)
	sess.mu.Lock()
	sess.lastActivity = time.Now()
	sess.mu.Unlock()
}

// SwitchPersona atomically sets the persona and resets conversation state:
// the upstream handle is cleared and the history emptied. Fails with
// ErrUnknownPersona when the id is not configured, mutating nothing.
func (s *SessionStore) SwitchPersona(identity, personaID string) (models.Persona, error) {
	persona, ok := s.Persona(personaID)
	if !ok {
		return models.Persona{}, fmt.Errorf("%w: %s", ErrUnknownPersona, personaID)
	}

	sess := s.GetOrCreate(identity)
	sess.mu.Lock()
	sess.persona = persona
	sess.conversationHandle = ""
	sess.history = nil
	sess.mu.Unlock()

	slog.Info("persona switched", "identity", identity, "persona", personaID)
	return persona, nil
}

// View returns a consistent copy of the session state for one turn.
func (s *SessionStore) View(identity string) SessionView {
	sess := s.GetOrCreate(identity)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	history := make([]models.Message, len(sess.history))
	copy(history, sess.history)
	return SessionView{
		Persona:            sess.persona,
		ConversationHandle: sess.conversationHandle,
		History:            history,
	}
}

// SetHandle records the upstream-assigned conversation identifier.
func (s *SessionStore) SetHandle(identity, handle string) {
	sess := s.GetOrCreate(identity)
	sess.mu.Lock()
	sess.conversationHandle = handle
	sess.mu.Unlock()
}

// AppendTurn appends one exchange to the history. The user message is
// skipped when it already sits at the tail (idempotent against duplicate
// appends); the bot message is appended only when it has content. The
// history is then truncated to the most recent historyCap entries.
func (s *SessionStore) AppendTurn(identity string, userMessage, botMessage models.Message) {
	sess := s.GetOrCreate(identity)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	n := len(sess.history)
	if n == 0 || sess.history[n-1].Content != userMessage.Content {
		sess.history = append(sess.history, userMessage)
	}
	if botMessage.Content != "" {
		sess.history = append(sess.history, botMessage)
	}
	if len(sess.history) > s.historyCap {
		sess.history = sess.history[len(sess.history)-s.historyCap:]
	}
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ReapIdle removes every session idle longer than the configured timeout.
// Wired to the scheduler once per hour; returns the reaped identities so
// callers can drop per-identity state held elsewhere (rate limiters).
func (s *SessionStore) ReapIdle() []string {
	cutoff := time.Now().Add(-s.idleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []string
	for identity, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.lastActivity.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, identity)
			reaped = append(reaped, identity)
		}
	}
	if len(reaped) > 0 {
		slog.Info("idle sessions reaped", "count", len(reaped), "remaining", len(s.sessions))
	}
	return reaped
}
