package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryEnforcesOneSessionPerManuscript(t *testing.T) {
	registry := NewSessionRegistry()

	require.NoError(t, registry.Register(&ActiveSession{ID: "s1", ManuscriptID: "m1"}))

	err := registry.Register(&ActiveSession{ID: "s2", ManuscriptID: "m1"})
	require.ErrorIs(t, err, ErrManuscriptSessionExists)

	// Other manuscripts are unaffected.
	require.NoError(t, registry.Register(&ActiveSession{ID: "s3", ManuscriptID: "m2"}))

	// Once the first session is gone the manuscript frees up.
	registry.Unregister("s1")
	require.NoError(t, registry.Register(&ActiveSession{ID: "s4", ManuscriptID: "m1"}))
}

func TestRegistryListOrdersByStart(t *testing.T) {
	registry := NewSessionRegistry()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, registry.Register(&ActiveSession{ID: "b", ManuscriptID: "m2", StartedAt: base.Add(time.Minute)}))
	require.NoError(t, registry.Register(&ActiveSession{ID: "a", ManuscriptID: "m1", StartedAt: base}))

	list := registry.List()
	require.Len(t, list, 2)
	require.Equal(t, "a", list[0].ID)
	require.Equal(t, "b", list[1].ID)
}

func TestRegistryGetReturnsSnapshot(t *testing.T) {
	registry := NewSessionRegistry()
	require.NoError(t, registry.Register(&ActiveSession{ID: "s1", ManuscriptID: "m1", Title: "draft"}))

	got, ok := registry.Get("s1")
	require.True(t, ok)
	got.Title = "mutated"

	again, ok := registry.Get("s1")
	require.True(t, ok)
	require.Equal(t, "draft", again.Title)

	_, ok = registry.Get("missing")
	require.False(t, ok)
}

func TestRegistryTouchRefreshesActivity(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	registry := NewSessionRegistry()
	registry.timeNow = func() time.Time { return now }

	require.NoError(t, registry.Register(&ActiveSession{ID: "s1", ManuscriptID: "m1"}))

	now = now.Add(30 * time.Minute)
	registry.Touch("s1")

	got, ok := registry.Get("s1")
	require.True(t, ok)
	require.Equal(t, now, got.LastActivityAt)
}

func TestRegistryConnectionRefCounting(t *testing.T) {
	registry := NewSessionRegistry()
	require.NoError(t, registry.Register(&ActiveSession{ID: "s1", ManuscriptID: "m1"}))

	require.Equal(t, 1, registry.AddConnection("s1", "u1"))
	require.Equal(t, 2, registry.AddConnection("s1", "u1"))
	require.Equal(t, 1, registry.AddConnection("s1", "u2"))
	require.Equal(t, 2, registry.OnlineUsers("s1"))

	require.Equal(t, 1, registry.RemoveConnection("s1", "u1"))
	require.Equal(t, 1, registry.ConnectionCount("s1", "u1"))

	require.Equal(t, 0, registry.RemoveConnection("s1", "u1"))
	require.Equal(t, 1, registry.OnlineUsers("s1"))

	// Removing a connection that was never added stays at zero.
	require.Equal(t, 0, registry.RemoveConnection("s1", "ghost"))
}
