// Package session keeps short-lived, in-memory conversation state for
// multi-turn question answering.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for unknown (or already purged) session IDs.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned the first time an idle session is touched after
	// its timeout. The session is purged as a side effect.
	ErrExpired = errors.New("session expired")

	// ErrInvalidRole rejects messages whose role is neither user nor assistant.
	ErrInvalidRole = errors.New("invalid message role")
)

// DefaultTimeout is how long a session may stay idle.
const DefaultTimeout = 30 * time.Minute

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversational turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a snapshot of a conversation.
type Session struct {
	ID        string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type entry struct {
	mu     sync.Mutex
	s      Session
	purged bool
}

// snapshot copies the session so callers never share the message slice.
func (e *entry) snapshot() Session {
	s := e.s
	s.Messages = append([]Message(nil), e.s.Messages...)
	return s
}

// Store holds sessions in memory. Expiry is lazy: an idle session is purged
// when next touched, or by Sweep.
//
// Lock order is store, then entry. Code holding an entry lock never takes
// the store lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	timeout  time.Duration
	now      func() time.Time
}

// NewStore creates a Store. A non-positive timeout selects DefaultTimeout.
func NewStore(timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		sessions: make(map[string]*entry),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Timeout returns the idle timeout.
func (st *Store) Timeout() time.Duration {
	return st.timeout
}

// Create starts an empty session with a fresh UUID.
func (st *Store) Create() Session {
	now := st.now()
	e := &entry{s: Session{
		ID:        uuid.NewString(),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}}

	st.mu.Lock()
	st.sessions[e.s.ID] = e
	st.mu.Unlock()

	return e.snapshot()
}

func (st *Store) lookup(id string) (*entry, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.sessions[id]
	return e, ok
}

// purge removes e from the map unless it has already been replaced.
func (st *Store) purge(id string, e *entry) {
	st.mu.Lock()
	if cur, ok := st.sessions[id]; ok && cur == e {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
}

func (st *Store) expired(s Session, now time.Time) bool {
	return now.Sub(s.UpdatedAt) > st.timeout
}

// withActive runs fn on the live entry for id while holding its lock.
// Absent sessions yield ErrNotFound; idle ones are purged and yield ErrExpired.
func (st *Store) withActive(id string, fn func(e *entry, now time.Time)) error {
	e, ok := st.lookup(id)
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	if e.purged {
		e.mu.Unlock()
		return ErrNotFound
	}
	now := st.now()
	if st.expired(e.s, now) {
		e.purged = true
		e.mu.Unlock()
		st.purge(id, e)
		return ErrExpired
	}
	fn(e, now)
	e.mu.Unlock()
	return nil
}

// Get returns the session, or ErrNotFound / ErrExpired.
func (st *Store) Get(id string) (Session, error) {
	var out Session
	err := st.withActive(id, func(e *entry, _ time.Time) {
		out = e.snapshot()
	})
	return out, err
}

// AddMessage appends a message and refreshes the idle timer. Appends to the
// same session are serialized; timestamps never decrease within a session.
func (st *Store) AddMessage(id, role, content string) (Session, error) {
	if role != RoleUser && role != RoleAssistant {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	var out Session
	err := st.withActive(id, func(e *entry, now time.Time) {
		if n := len(e.s.Messages); n > 0 && now.Before(e.s.Messages[n-1].Timestamp) {
			now = e.s.Messages[n-1].Timestamp
		}
		e.s.Messages = append(e.s.Messages, Message{Role: role, Content: content, Timestamp: now})
		e.s.UpdatedAt = now
		out = e.snapshot()
	})
	return out, err
}

// History returns the most recent limit messages in chronological order.
// A non-positive limit returns every message. Absent or expired sessions
// yield an empty slice.
func (st *Store) History(id string, limit int) []Message {
	s, err := st.Get(id)
	if err != nil {
		return []Message{}
	}
	msgs := s.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

// Sweep purges every expired session and returns how many were removed.
func (st *Store) Sweep() int {
	now := st.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	purged := 0
	for id, e := range st.sessions {
		e.mu.Lock()
		if st.expired(e.s, now) {
			e.purged = true
			delete(st.sessions, id)
			purged++
		}
		e.mu.Unlock()
	}
	return purged
}

// Len returns the number of sessions currently held, expired or not.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
