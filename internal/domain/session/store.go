package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertexmcp/vertexmcp/pkg/safego"
)

// Message is one conversation entry, oldest-first in a session's history.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// record is a live session. lastAccessed moves on every read or append.
type record struct {
	id           string
	history      []Message
	createdAt    time.Time
	lastAccessed time.Time
}

// Store keeps conversation histories keyed by session ID, bounded in
// length. Sessions idle past the timeout are dead: the next touch evicts
// them, and a background sweeper reclaims the ones nobody touches.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*record
	maxHistory int
	timeout    time.Duration

	sweepEvery time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	logger     *zap.Logger

	// now is swapped in tests to drive expiry without waiting.
	now func() time.Time
}

// NewStore creates a store and starts its sweeper.
// maxHistory bounds the retained messages per session; timeout is the idle
// TTL after which the sweeper removes a session.
func NewStore(maxHistory int, timeout time.Duration, logger *zap.Logger) *Store {
	if maxHistory <= 0 {
		maxHistory = 10
	}
	if timeout <= 0 {
		timeout = time.Hour
	}

	s := &Store{
		sessions:   make(map[string]*record),
		maxHistory: maxHistory,
		timeout:    timeout,
		sweepEvery: time.Minute,
		stopCh:     make(chan struct{}),
		logger:     logger.With(zap.String("component", "session-store")),
		now:        time.Now,
	}

	safego.Go(s.logger, "session-sweeper", s.sweepLoop)
	return s
}

// Create registers a new empty session and returns its ID.
// IDs are 128 random bits, hex-encoded; collisions are treated as impossible.
func (s *Store) Create() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	id := hex.EncodeToString(b)

	now := s.now()
	s.mu.Lock()
	s.sessions[id] = &record{id: id, createdAt: now, lastAccessed: now}
	s.mu.Unlock()

	s.logger.Debug("Session created", zap.String("session_id", id))
	return id
}

// History returns a copy of the session's messages, oldest-first, and
// refreshes its idle timer. Unknown and expired IDs return an empty slice;
// a session past its TTL is evicted on first touch, never resurrected.
func (s *Store) History(id string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(id)
	if rec == nil {
		return nil
	}
	rec.lastAccessed = s.now()

	out := make([]Message, len(rec.history))
	copy(out, rec.history)
	return out
}

// Append adds a message to the session, trimming the history to the most
// recent maxHistory entries. Appends to unknown or expired sessions are
// no-ops.
func (s *Store) Append(id string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(id)
	if rec == nil {
		return
	}
	rec.lastAccessed = s.now()
	rec.history = append(rec.history, msg)
	if excess := len(rec.history) - s.maxHistory; excess > 0 {
		rec.history = rec.history[excess:]
	}
}

// live returns the session record, deleting it first when its idle TTL
// has elapsed. The sweeper only reclaims memory for sessions nobody
// touches; correctness does not depend on it. Callers must hold mu.
func (s *Store) live(id string) *record {
	rec, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.now().Sub(rec.lastAccessed) >= s.timeout {
		delete(s.sessions, id)
		s.logger.Debug("Session expired", zap.String("session_id", id))
		return nil
	}
	return rec
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop halts the sweeper. Idempotent.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(s.now())
		case <-s.stopCh:
			return
		}
	}
}

// sweep removes idle sessions. Expired IDs are collected under the lock and
// removed one entry at a time so readers are never blocked for longer than
// a single map removal.
func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	var expired []string
	for id, rec := range s.sessions {
		if now.Sub(rec.lastAccessed) >= s.timeout {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.mu.Lock()
		if rec, ok := s.sessions[id]; ok && now.Sub(rec.lastAccessed) >= s.timeout {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
	}

	if len(expired) > 0 {
		s.logger.Info("Swept idle sessions", zap.Int("removed", len(expired)))
	}
}
