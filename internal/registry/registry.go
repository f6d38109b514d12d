// Package registry is the single authoritative map of running tenant bots.
package registry

import (
	"sync"

	"github.com/Marraneitor/BOTLY/internal/transport"
)

// Status is the lifecycle state of a tenant's session.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusAwaitingScan Status = "awaiting_scan"
	StatusConnected    Status = "connected"
	StatusOff          Status = "off"
)

// Stats are the per-session runtime counters shown on the dashboard.
type Stats struct {
	MessagesToday int `json:"messagesToday"`
	ContactsCount int `json:"contactsCount"`
}

// Session is one tenant's live bot handle. All mutable fields are guarded by
// the session's own mutex; the registry only guards the map itself.
type Session struct {
	TenantID string

	mu         sync.Mutex
	status     Status
	challenge  string // pairing challenge as an image data URL, only while awaiting_scan
	retryCount int
	stats      Stats
	contacts   map[string]bool
	conn       transport.Connection
	detach     func()
}

// NewSession creates a session in the starting state.
func NewSession(tenantID string) *Session {
	return &Session{
		TenantID: tenantID,
		status:   StatusStarting,
		contacts: make(map[string]bool),
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetChallenge stores the pending pairing payload and moves the session to
// awaiting_scan.
func (s *Session) SetChallenge(dataURL string) {
	s.mu.Lock()
	s.status = StatusAwaitingScan
	s.challenge = dataURL
	s.mu.Unlock()
}

// Challenge returns the pending pairing payload, empty unless awaiting_scan.
func (s *Session) Challenge() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge
}

// MarkConnected records a successful connect: clears the pending challenge
// and resets the reconnect budget.
func (s *Session) MarkConnected() {
	s.mu.Lock()
	s.status = StatusConnected
	s.challenge = ""
	s.retryCount = 0
	s.mu.Unlock()
}

// MarkOff moves the session to its terminal state.
func (s *Session) MarkOff() {
	s.mu.Lock()
	s.status = StatusOff
	s.challenge = ""
	s.mu.Unlock()
}

// MarkStarting returns the session to starting (the reconnect edge). The
// retry counter is deliberately preserved.
func (s *Session) MarkStarting() {
	s.mu.Lock()
	s.status = StatusStarting
	s.challenge = ""
	s.mu.Unlock()
}

// IncrementRetry bumps the reconnect counter and returns the new value.
func (s *Session) IncrementRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCount++
	return s.retryCount
}

func (s *Session) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// RecordInbound updates message/contact counters for one inbound message and
// returns the new totals.
func (s *Session) RecordInbound(senderID string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.MessagesToday++
	if !s.contacts[senderID] {
		s.contacts[senderID] = true
		s.stats.ContactsCount = len(s.contacts)
	}
	return s.stats
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// BindConnection stores the live connection and its detach function,
// releasing the previous pair if the session is being reconnected.
func (s *Session) BindConnection(conn transport.Connection, detach func()) {
	s.mu.Lock()
	s.conn = conn
	s.detach = detach
	s.mu.Unlock()
}

// Conn returns the live connection, nil while (re)connecting.
func (s *Session) Conn() transport.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Detach unhooks the event handlers from the current connection and returns
// it for closing. Further events from that connection become no-ops.
func (s *Session) Detach() transport.Connection {
	s.mu.Lock()
	conn, detach := s.conn, s.detach
	s.conn, s.detach = nil, nil
	s.mu.Unlock()
	if detach != nil {
		detach()
	}
	return conn
}

// Registry maps tenant ids to their live sessions. All mutations are atomic
// with respect to concurrent readers; the raw map is never exposed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the tenant's live session, if any.
func (r *Registry) Get(tenantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

// RegisterIfAbsent inserts the session unless the tenant already has one.
// Check and insert happen under a single lock acquisition, so two concurrent
// start calls cannot both register. Returns the session now in the registry
// and whether the insert happened.
func (r *Registry) RegisterIfAbsent(s *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[s.TenantID]; ok {
		return existing, false
	}
	r.sessions[s.TenantID] = s
	return s, true
}

// Remove deletes the tenant's entry only if it still holds the given session
// pointer. A stale continuation that lost its slot to a newer session is a
// no-op.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.TenantID]; ok && cur == s {
		delete(r.sessions, s.TenantID)
		return true
	}
	return false
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Statuses snapshots every tenant's current status.
func (r *Registry) Statuses() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = s.Status()
	}
	return out
}
