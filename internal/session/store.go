// Package session owns ephemeral session records binding an agent/user
// to a correlation context. Sessions are process-local and rebuilt on
// restart; expiry is detected lazily on read and enforced by a
// periodic sweep.
package session

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusExpired    Status = "expired"
	StatusTerminated Status = "terminated"
)

const (
	// DefaultExpiration is applied when CreateOptions leaves
	// ExpirationMinutes unset.
	DefaultExpiration = 30 * time.Minute

	// ExpiredRetention is how long expired/terminated sessions are kept
	// before the sweep hard-deletes them.
	ExpiredRetention = time.Hour
)

// Session is one time-bounded binding between an agent/user and a
// correlation context.
type Session struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agentId,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	LastActivity time.Time      `json:"lastActivity"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Metadata = make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// CreateOptions configures a new session.
type CreateOptions struct {
	AgentID           string
	UserID            string
	ExpirationMinutes int
	Metadata          map[string]any
}

// Partial is a field-wise session update; the id is immutable.
type Partial struct {
	AgentID  *string
	UserID   *string
	Metadata map[string]any
}

// Filter narrows List results. Offset is applied before Limit.
type Filter struct {
	AgentID string
	UserID  string
	Status  Status
	Limit   int
	Offset  int
}

// Store is the process-wide session store.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *slog.Logger
	now      func() time.Time

	defaultExpiry time.Duration
	retention     time.Duration

	// expiredSince tracks when a session left the active state, which
	// anchors the retention window for the sweep.
	expiredSince map[string]time.Time
}

// NewStore builds an empty session store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:      make(map[string]*Session),
		expiredSince:  make(map[string]time.Time),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		defaultExpiry: DefaultExpiration,
		retention:     ExpiredRetention,
	}
}

// SetDurations overrides the default expiry applied to new sessions
// and the retention window the sweep uses for dead records. Zero
// values keep the current setting. Call before serving traffic.
func (s *Store) SetDurations(defaultExpiry, retention time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if defaultExpiry > 0 {
		s.defaultExpiry = defaultExpiry
	}
	if retention > 0 {
		s.retention = retention
	}
}

// Create registers a new session.
func (s *Store) Create(opts CreateOptions) *Session {
	s.mu.Lock()
	expiry := s.defaultExpiry
	s.mu.Unlock()
	if opts.ExpirationMinutes > 0 {
		expiry = time.Duration(opts.ExpirationMinutes) * time.Minute
	}
	now := s.now()
	sess := &Session{
		ID:           "session_" + uuid.NewString(),
		AgentID:      opts.AgentID,
		UserID:       opts.UserID,
		Status:       StatusActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(expiry),
		LastActivity: now,
		Metadata:     map[string]any{},
	}
	for k, v := range opts.Metadata {
		sess.Metadata[k] = v
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Debug("session created", "session_id", sess.ID, "agent_id", sess.AgentID, "expires_at", sess.ExpiresAt)
	return sess.clone()
}

// Resolve returns the live session for id, refreshing lastActivity.
// A session past its expiry is marked expired and nil is returned.
func (s *Store) Resolve(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if sess.Status != StatusActive {
		return nil
	}
	now := s.now()
	if now.After(sess.ExpiresAt) {
		sess.Status = StatusExpired
		s.expiredSince[id] = now
		return nil
	}
	sess.LastActivity = now
	return sess.clone()
}

// Update merges partial into the stored record; lastActivity is always
// refreshed. Returns nil when the session is absent.
func (s *Store) Update(id string, partial Partial) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if partial.AgentID != nil {
		sess.AgentID = *partial.AgentID
	}
	if partial.UserID != nil {
		sess.UserID = *partial.UserID
	}
	for k, v := range partial.Metadata {
		sess.Metadata[k] = v
	}
	sess.LastActivity = s.now()
	return sess.clone()
}

// Extend pushes an active session's expiry forward. Returns nil for
// absent or non-active sessions. An overdue session is expired here
// the same way Resolve expires it, so extension cannot resurrect a
// session whose deadline already passed.
func (s *Store) Extend(id string, minutes int) *Session {
	if minutes <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != StatusActive {
		return nil
	}
	now := s.now()
	if now.After(sess.ExpiresAt) {
		sess.Status = StatusExpired
		s.expiredSince[id] = now
		return nil
	}
	sess.ExpiresAt = sess.ExpiresAt.Add(time.Duration(minutes) * time.Minute)
	sess.LastActivity = now
	return sess.clone()
}

// Terminate transitions a session to terminated without deleting it.
func (s *Store) Terminate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status == StatusTerminated {
		return false
	}
	sess.Status = StatusTerminated
	s.expiredSince[id] = s.now()
	return true
}

// Delete hard-removes a session.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	delete(s.expiredSince, id)
	return true
}

// List returns sessions matching the filter, offset before limit.
func (s *Store) List(filter Filter) []*Session {
	s.mu.Lock()
	matched := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if filter.AgentID != "" && sess.AgentID != filter.AgentID {
			continue
		}
		if filter.UserID != "" && sess.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		matched = append(matched, sess.clone())
	}
	s.mu.Unlock()

	slices.SortFunc(matched, func(a, b *Session) int {
		switch {
		case a.CreatedAt.Before(b.CreatedAt):
			return -1
		case a.CreatedAt.After(b.CreatedAt):
			return 1
		default:
			return compareStrings(a.ID, b.ID)
		}
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Session{}
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Sweep marks overdue sessions expired and purges sessions that left
// the active state longer than the retention window ago. Returns
// (expired, purged) counts.
func (s *Store) Sweep() (expired, purged int) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.retention)
	for id, sess := range s.sessions {
		if sess.Status == StatusActive && now.After(sess.ExpiresAt) {
			sess.Status = StatusExpired
			s.expiredSince[id] = now
			expired++
		}
		if sess.Status != StatusActive {
			if since, ok := s.expiredSince[id]; ok && since.Before(cutoff) {
				delete(s.sessions, id)
				delete(s.expiredSince, id)
				purged++
			}
		}
	}
	if expired > 0 || purged > 0 {
		s.logger.Debug("session sweep", "expired", expired, "purged", purged)
	}
	return expired, purged
}

// Shutdown terminates every active session (graceful drain). Returns
// the number of sessions terminated.
func (s *Store) Shutdown() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.Status == StatusActive {
			sess.Status = StatusTerminated
			s.expiredSince[id] = now
			n++
		}
	}
	s.logger.Info("session store drained", "terminated", n)
	return n
}

// Count returns the number of sessions currently held, per status.
func (s *Store) Count() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Status]int, 3)
	for _, sess := range s.sessions {
		out[sess.Status]++
	}
	return out
}
