package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/models"
)

// fakeBroadcaster records every publish so tests can assert on event flow.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
	closed []string
}

type recordedEvent struct {
	Kind      string // publish, publish_except, send_to
	SessionID string
	ConnID    string
	Event     string
	Data      any
}

func (f *fakeBroadcaster) Publish(sessionID, event string, data any) {
	f.record(recordedEvent{Kind: "publish", SessionID: sessionID, Event: event, Data: data})
}

func (f *fakeBroadcaster) PublishExcept(sessionID, excludeConnID, event string, data any) {
	f.record(recordedEvent{Kind: "publish_except", SessionID: sessionID, ConnID: excludeConnID, Event: event, Data: data})
}

func (f *fakeBroadcaster) SendTo(sessionID, connID, event string, data any) {
	f.record(recordedEvent{Kind: "send_to", SessionID: sessionID, ConnID: connID, Event: event, Data: data})
}

func (f *fakeBroadcaster) CloseRoom(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sessionID)
}

func (f *fakeBroadcaster) record(event recordedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeBroadcaster) eventsNamed(name string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []recordedEvent
	for _, e := range f.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeBroadcaster) closedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	user := &models.User{
		Username:    username,
		Email:       username + "@example.com",
		DisplayName: username,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}
