package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/database/testutil"
	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/realtime"
)

func newSessionFixture(t *testing.T) (*SessionService, *SessionRegistry, *fakeBroadcaster, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	registry := NewSessionRegistry()
	broadcaster := &fakeBroadcaster{}
	svc, err := NewSessionService(db, registry, broadcaster)
	require.NoError(t, err)
	return svc, registry, broadcaster, db
}

func TestCreateSessionEnrolsOwner(t *testing.T) {
	svc, registry, _, _ := newSessionFixture(t)
	owner := seedUser(t, svc.db, "alice")

	session, err := svc.CreateSession(context.Background(), CreateSessionParams{
		ManuscriptID: "ms-1",
		Title:        "Reef Survey Draft",
		OwnerUserID:  owner.ID,
	})
	require.NoError(t, err)
	require.True(t, session.Active)
	require.Len(t, session.Participants, 1)
	require.Equal(t, models.RoleOwner, session.Participants[0].Role)
	require.Equal(t, owner.ID, session.Participants[0].UserID)

	active, ok := registry.Get(session.ID)
	require.True(t, ok)
	require.Equal(t, "ms-1", active.ManuscriptID)
}

func TestCreateSessionRejectsSecondForManuscript(t *testing.T) {
	svc, _, _, _ := newSessionFixture(t)
	owner := seedUser(t, svc.db, "alice")

	_, err := svc.CreateSession(context.Background(), CreateSessionParams{
		ManuscriptID: "ms-1", Title: "First", OwnerUserID: owner.ID,
	})
	require.NoError(t, err)

	_, err = svc.CreateSession(context.Background(), CreateSessionParams{
		ManuscriptID: "ms-1", Title: "Second", OwnerUserID: owner.ID,
	})
	require.ErrorIs(t, err, ErrManuscriptSessionExists)
}

func TestJoinSessionRefreshesExistingMembership(t *testing.T) {
	svc, _, _, _ := newSessionFixture(t)
	owner := seedUser(t, svc.db, "alice")
	bob := seedUser(t, svc.db, "bob")

	session, err := svc.CreateSession(context.Background(), CreateSessionParams{
		ManuscriptID: "ms-1", Title: "Draft", OwnerUserID: owner.ID,
	})
	require.NoError(t, err)

	joinedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.timeNow = func() time.Time { return joinedAt }
	first, err := svc.JoinSession(context.Background(), JoinSessionParams{
		SessionID: session.ID, UserID: bob.ID, Role: models.RoleViewer,
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleViewer, first.Role)

	// Rejoining with an explicit role upgrades the membership in place and
	// refreshes activity without duplicating the row.
	rejoinedAt := joinedAt.Add(5 * time.Minute)
	svc.timeNow = func() time.Time { return rejoinedAt }
	again, err := svc.JoinSession(context.Background(), JoinSessionParams{
		SessionID: session.ID, UserID: bob.ID, Role: models.RoleEditor,
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleEditor, again.Role)
	require.True(t, again.JoinedAt.Equal(joinedAt))
	require.True(t, again.LastActivityAt.Equal(rejoinedAt))

	// A bare reconnect keeps the current role.
	again, err = svc.JoinSession(context.Background(), JoinSessionParams{
		SessionID: session.ID, UserID: bob.ID,
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleEditor, again.Role)

	loaded, err := svc.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Participants, 2)
}

func TestJoinSessionDefaultsToViewer(t *testing.T) {
	svc, _, _, _ := newSessionFixture(t)
	owner := seedUser(t, svc.db, "alice")
	bob := seedUser(t, svc.db, "bob")

	session, err := svc.CreateSession(context.Background(), CreateSessionParams{
		ManuscriptID: "ms-1", Title: "Draft", OwnerUserID: owner.ID,
	})
	require.NoError(t, err)

	participant, err := svc.JoinSession(context.Background(), JoinSessionParams{
		SessionID: session.ID, UserID: bob.ID,
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleViewer, participant.Role)

	_, err = svc.JoinSession(context.Background(), JoinSessionParams{
		SessionID: session.ID, UserID: bob.ID, Role: "superuser",
	})
	require.Error(t, err)
}

func TestJoinSessionRejectsUnknownOrEndedSessions(t *testing.T) {
	svc, _, _, _ := newSessionFixture(t)
	owner := seedUser(t, svc.db, "alice")
	bob := seedUser(t, svc.db, "bob")

	_, err := svc.JoinSession(context.Background(), JoinSessionParams{
		SessionID: "00000000-0000-0000-0000-000000000000", UserID: bob.ID,
	})
	require.ErrorIs(t, err, ErrSessionNotFound)

	session, err := svc.CreateSession(context.Background(), CreateSessionParams{
		ManuscriptID: "ms-1", Title: "Draft", OwnerUserID: owner.ID,
	})
	require.NoError(t, err)
	require.NoError(t, svc.EndSession(context.Background(), EndSessionParams{
		SessionID: session.ID, UserID: owner.ID,
	}))

	_, err = svc.JoinSession(context.Background(), JoinSessionParams{
		SessionID: session.ID, UserID: bob.ID,
	})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndSessionOwnerOnlyAndBroadcastsBeforeTeardown(t *testing.T) {
	svc, registry, broadcaster, db := newSessionFixture(t)
	owner := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	session, err := svc.CreateSession(context.Background(), CreateSessionParams{
		ManuscriptID: "ms-1", Title: "Draft", OwnerUserID: owner.ID,
	})
	require.NoError(t, err)
	_, err = svc.JoinSession(context.Background(), JoinSessionParams{
		SessionID: session.ID, UserID: bob.ID,
	})
	require.NoError(t, err)

	err = svc.EndSession(context.Background(), EndSessionParams{SessionID: session.ID, UserID: bob.ID})
	require.ErrorIs(t, err, ErrNotSessionOwner)

	require.NoError(t, svc.EndSession(context.Background(), EndSessionParams{
		SessionID: session.ID, UserID: owner.ID,
	}))

	ended := broadcaster.eventsNamed(realtime.EventSessionEnded)
	require.Len(t, ended, 1)
	require.Equal(t, session.ID, ended[0].SessionID)
	require.Equal(t, []string{session.ID}, broadcaster.closedRooms())

	_, ok := registry.Get(session.ID)
	require.False(t, ok)

	var row models.CollabSession
	require.NoError(t, db.First(&row, "id = ?", session.ID).Error)
	require.False(t, row.Active)
	require.NotNil(t, row.EndedAt)
	require.NotNil(t, row.EndedByUserID)
	require.Equal(t, owner.ID, *row.EndedByUserID)

	// Ending twice reports not found: the session is terminal.
	err = svc.EndSession(context.Background(), EndSessionParams{SessionID: session.ID, UserID: owner.ID})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExpireSessionBypassesOwnerCheck(t *testing.T) {
	svc, registry, broadcaster, db := newSessionFixture(t)
	owner := seedUser(t, db, "alice")

	session, err := svc.CreateSession(context.Background(), CreateSessionParams{
		ManuscriptID: "ms-1", Title: "Draft", OwnerUserID: owner.ID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.ExpireSession(context.Background(), session.ID))

	_, ok := registry.Get(session.ID)
	require.False(t, ok)
	require.Len(t, broadcaster.eventsNamed(realtime.EventSessionEnded), 1)
}

func TestRestoreRegistryRebuildsActiveSessionsOffline(t *testing.T) {
	svc, _, _, db := newSessionFixture(t)
	owner := seedUser(t, db, "alice")

	session, err := svc.CreateSession(context.Background(), CreateSessionParams{
		ManuscriptID: "ms-1", Title: "Draft", OwnerUserID: owner.ID,
	})
	require.NoError(t, err)

	// Simulate a participant stuck online from before a crash.
	require.NoError(t, db.Model(&models.SessionParticipant{}).
		Where("session_id = ?", session.ID).
		Update("online", true).Error)

	// Fresh process: new registry over the same database.
	freshRegistry := NewSessionRegistry()
	fresh, err := NewSessionService(db, freshRegistry, &fakeBroadcaster{})
	require.NoError(t, err)
	require.NoError(t, fresh.RestoreRegistry(context.Background()))

	restored, ok := freshRegistry.Get(session.ID)
	require.True(t, ok)
	require.Equal(t, "ms-1", restored.ManuscriptID)

	var participant models.SessionParticipant
	require.NoError(t, db.First(&participant, "session_id = ? AND user_id = ?", session.ID, owner.ID).Error)
	require.False(t, participant.Online)
}
