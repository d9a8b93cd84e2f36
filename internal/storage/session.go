package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"kardex_assistant/pkg"
)

// ErrSessionNotFound is returned when a key has no live session
var ErrSessionNotFound = errors.New("session not found")

// DefaultMaxMessages bounds the history kept per session
const DefaultMaxMessages = 20

// Session is the short-term memory kept per customer (usually keyed by phone number)
type Session struct {
	Key       string                    `json:"key"`
	State     pkg.SessionState          `json:"state"`
	Messages  []pkg.ConversationMessage `json:"messages"`
	CreatedAt int64                     `json:"created_at"`
	UpdatedAt int64                     `json:"updated_at"`
}

// SessionStore handles short-term conversational memory
type SessionStore interface {
	Get(ctx context.Context, key string) (*Session, error)
	State(ctx context.Context, key string) (*pkg.SessionState, error)
	Save(ctx context.Context, key, message string, isBot bool) error
	History(ctx context.Context, key string, n int) ([]pkg.ConversationMessage, error)
	SetState(ctx context.Context, key string, state pkg.SessionState) error
	Delete(ctx context.Context, key string) error
}

// MemorySessionStore is an in-memory implementation for development and tests
type MemorySessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	ttl         time.Duration
	maxMessages int
	now         func() time.Time
}

// NewMemorySessionStore creates an in-memory store; sessions idle longer than ttl expire
func NewMemorySessionStore(ttl time.Duration, maxMessages int) *MemorySessionStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &MemorySessionStore{
		sessions:    make(map[string]*Session),
		ttl:         ttl,
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

// Get returns a copy of the session
func (m *MemorySessionStore) Get(ctx context.Context, key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.live(key)
	if err != nil {
		return nil, err
	}
	cp := *s
	cp.Messages = append([]pkg.ConversationMessage(nil), s.Messages...)
	return &cp, nil
}

// live returns the stored session, dropping it when expired. Caller holds m.mu.
func (m *MemorySessionStore) live(key string) (*Session, error) {
	s, ok := m.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	if m.ttl > 0 && m.now().Unix()-s.UpdatedAt > int64(m.ttl.Seconds()) {
		delete(m.sessions, key)
		return nil, fmt.Errorf("%w: %s expired", ErrSessionNotFound, key)
	}
	if err := ValidateSession(s); err != nil {
		delete(m.sessions, key)
		return nil, fmt.Errorf("%w: %s dropped: %v", ErrSessionNotFound, key, err)
	}
	return s, nil
}

func (m *MemorySessionStore) getOrCreate(key string) *Session {
	s, err := m.live(key)
	if err != nil {
		now := m.now().Unix()
		s = &Session{Key: key, CreatedAt: now, UpdatedAt: now}
		m.sessions[key] = s
	}
	return s
}

// State returns the conversational state of a session
func (m *MemorySessionStore) State(ctx context.Context, key string) (*pkg.SessionState, error) {
	s, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &s.State, nil
}

// Save appends a user or bot message, creating the session when needed
func (m *MemorySessionStore) Save(ctx context.Context, key, message string, isBot bool) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreate(key)
	s.Messages = appendMessage(s.Messages, message, isBot, m.maxMessages)
	s.UpdatedAt = m.now().Unix()
	return nil
}

// History returns up to n most recent messages, oldest first
func (m *MemorySessionStore) History(ctx context.Context, key string, n int) ([]pkg.ConversationMessage, error) {
	s, err := m.Get(ctx, key)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lastMessages(s.Messages, n), nil
}

// SetState replaces the conversational state of a session
func (m *MemorySessionStore) SetState(ctx context.Context, key string, state pkg.SessionState) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreate(key)
	s.State = state
	s.UpdatedAt = m.now().Unix()
	return nil
}

// Delete removes a session
func (m *MemorySessionStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
	return nil
}

// appendMessage skips blank content so stored sessions always validate
func appendMessage(msgs []pkg.ConversationMessage, content string, isBot bool, max int) []pkg.ConversationMessage {
	if strings.TrimSpace(content) == "" {
		return msgs
	}
	role := "user"
	if isBot {
		role = "assistant"
	}
	msgs = append(msgs, pkg.ConversationMessage{Role: role, Content: content})
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return msgs
}

func lastMessages(msgs []pkg.ConversationMessage, n int) []pkg.ConversationMessage {
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]pkg.ConversationMessage(nil), msgs...)
}

// ValidateSession rejects sessions without a key or with blank or unknown-role messages
func ValidateSession(session *Session) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if session.Key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	for i, msg := range session.Messages {
		if msg.Content == "" {
			return fmt.Errorf("message %d has empty content", i)
		}
		if msg.Role != "user" && msg.Role != "assistant" {
			return fmt.Errorf("message %d has invalid role: %s", i, msg.Role)
		}
	}
	return nil
}
