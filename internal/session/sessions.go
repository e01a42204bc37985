package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pkdindustries/voicerag/internal/core"
	"pkdindustries/voicerag/internal/tools"
)

// Session owns the conversation state and the tool registry of one logical
// conversation. Turns against a session must not overlap; Lock serializes them.
type Session struct {
	ID           string
	SystemPrompt string
	History      *History
	Tools        *tools.Registry

	lock *core.RequestLock

	mu   sync.Mutex
	last time.Time
}

// New creates an empty session. A nil registry means no tools are offered.
func New(id, systemPrompt string, registry *tools.Registry) *Session {
	if registry == nil {
		registry = tools.NewRegistry(nil)
	}
	return &Session{
		ID:           id,
		SystemPrompt: systemPrompt,
		History:      NewHistory(),
		Tools:        registry,
		lock:         core.NewRequestLock(),
		last:         time.Now(),
	}
}

// Lock is the per-session lock used to serialize turns.
func (s *Session) Lock() *core.RequestLock {
	return s.lock
}

// Clear resets the conversation. Clearing an empty session is a no-op.
func (s *Session) Clear() {
	s.History.Reset()
	s.Touch()
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.last = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Factory builds a fresh session for an id.
type Factory func(id string) *Session

// Store maps session ids to live sessions and drops the ones left idle past TTL.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	factory  Factory
	logger   *zap.SugaredLogger
}

func NewStore(ttl time.Duration, factory Factory, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		factory:  factory,
		logger:   logger,
	}
}

// Get returns the session for id, creating it on first use.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[id]; ok {
		s.Touch()
		return s
	}

	s := st.factory(id)
	st.sessions[id] = s
	st.logger.Debugw("session created", "session", id)
	return s
}

// Lookup returns the session for id without creating it.
func (st *Store) Lookup(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Reap drops sessions unused since now minus the TTL and returns how many went.
// A zero TTL keeps sessions forever.
func (st *Store) Reap(now time.Time) int {
	if st.ttl <= 0 {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	reaped := 0
	for id, s := range st.sessions {
		if now.Sub(s.LastUsed()) > st.ttl {
			delete(st.sessions, id)
			reaped++
			st.logger.Debugw("session expired", "session", id)
		}
	}
	return reaped
}

// Run reaps idle sessions until ctx is done.
func (st *Store) Run(ctx context.Context) {
	if st.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(st.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := st.Reap(now); n > 0 {
				st.logger.Infow("reaped idle sessions", "count", n, "remaining", st.Len())
			}
		}
	}
}
