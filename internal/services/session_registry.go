package services

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inkwell-hq/inkwell/pkg/metrics"
)

// ActiveSession is the in-memory record of a live collaborative session. The
// registry is a cache over the durable store: it can be rebuilt after a
// restart and makes no durability promises of its own.
type ActiveSession struct {
	ID             string    `json:"id"`
	ManuscriptID   string    `json:"manuscript_id"`
	Title          string    `json:"title"`
	OwnerUserID    string    `json:"owner_user_id"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// SessionRegistry holds process-wide mutable collaboration state: the active
// session set (indexed by session and by manuscript) and per-(session, user)
// connection reference counts. It is constructed once at process start;
// nothing here is module-level.
type SessionRegistry struct {
	mu          sync.RWMutex
	sessions    map[string]*ActiveSession
	byScript    map[string]string // manuscript id -> session id
	connections map[string]map[string]int
	timeNow     func() time.Time
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions:    make(map[string]*ActiveSession),
		byScript:    make(map[string]string),
		connections: make(map[string]map[string]int),
		timeNow:     time.Now,
	}
}

// Register adds a session to the registry. At most one active session may
// exist per manuscript; a second registration fails.
func (r *SessionRegistry) Register(session *ActiveSession) error {
	if session == nil {
		return errors.New("session registry: record is required")
	}
	if session.ID == "" {
		return errors.New("session registry: id is required")
	}
	if session.ManuscriptID == "" {
		return errors.New("session registry: manuscript id is required")
	}

	now := r.timeNow()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = session.StartedAt
	}

	record := *session

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[record.ID]; exists {
		return fmt.Errorf("session registry: session %s already registered", record.ID)
	}
	if existingID, exists := r.byScript[record.ManuscriptID]; exists {
		return fmt.Errorf("%w: existing session id %s", ErrManuscriptSessionExists, existingID)
	}

	r.sessions[record.ID] = &record
	r.byScript[record.ManuscriptID] = record.ID
	metrics.ActiveSessions.Inc()

	return nil
}

// Unregister removes the session and any connection counts for it.
func (r *SessionRegistry) Unregister(sessionID string) {
	if sessionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	delete(r.sessions, sessionID)
	delete(r.byScript, record.ManuscriptID)
	delete(r.connections, sessionID)
	metrics.ActiveSessions.Dec()
}

// Get returns a snapshot of the active session record.
func (r *SessionRegistry) Get(sessionID string) (*ActiveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.sessions[sessionID]
	if !exists {
		return nil, false
	}
	snapshot := *record
	return &snapshot, true
}

// List returns snapshots of all active sessions ordered by start time.
func (r *SessionRegistry) List() []ActiveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ActiveSession, 0, len(r.sessions))
	for _, record := range r.sessions {
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Touch refreshes the session's last-activity timestamp.
func (r *SessionRegistry) Touch(sessionID string) {
	now := r.timeNow()

	r.mu.Lock()
	defer r.mu.Unlock()

	if record, exists := r.sessions[sessionID]; exists {
		record.LastActivityAt = now
	}
}

// AddConnection increments the connection count for (session, user) and
// returns the new count. A count of 1 means this was the user's first
// connection and the participant should come online.
func (r *SessionRegistry) AddConnection(sessionID, userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connections[sessionID] == nil {
		r.connections[sessionID] = make(map[string]int)
	}
	r.connections[sessionID][userID]++
	return r.connections[sessionID][userID]
}

// RemoveConnection decrements the connection count for (session, user) and
// returns the remaining count. A count of 0 means the user's last connection
// left and the participant should go offline.
func (r *SessionRegistry) RemoveConnection(sessionID, userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUser := r.connections[sessionID]
	if byUser == nil {
		return 0
	}

	if byUser[userID] > 0 {
		byUser[userID]--
	}
	remaining := byUser[userID]
	if remaining == 0 {
		delete(byUser, userID)
		if len(byUser) == 0 {
			delete(r.connections, sessionID)
		}
	}
	return remaining
}

// ConnectionCount reports the live connection count for (session, user).
func (r *SessionRegistry) ConnectionCount(sessionID, userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[sessionID][userID]
}

// OnlineUsers reports how many distinct users hold at least one connection
// to the session.
func (r *SessionRegistry) OnlineUsers(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[sessionID])
}
