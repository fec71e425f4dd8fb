package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/database/testutil"
	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/realtime"
)

type editFixture struct {
	sessions    *SessionService
	edits       *EditService
	broadcaster *fakeBroadcaster
	db          *gorm.DB
	sessionID   string
	aliceID     string
	bobID       string
}

func newEditFixture(t *testing.T) *editFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	registry := NewSessionRegistry()
	broadcaster := &fakeBroadcaster{}

	sessions, err := NewSessionService(db, registry, broadcaster)
	require.NoError(t, err)
	edits, err := NewEditService(db, registry, broadcaster)
	require.NoError(t, err)

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	session, err := sessions.CreateSession(context.Background(), CreateSessionParams{
		ManuscriptID: "ms-1", Title: "Draft", OwnerUserID: alice.ID,
	})
	require.NoError(t, err)
	_, err = sessions.JoinSession(context.Background(), JoinSessionParams{
		SessionID: session.ID, UserID: bob.ID, Role: models.RoleEditor,
	})
	require.NoError(t, err)

	return &editFixture{
		sessions:    sessions,
		edits:       edits,
		broadcaster: broadcaster,
		db:          db,
		sessionID:   session.ID,
		aliceID:     alice.ID,
		bobID:       bob.ID,
	}
}

func insertOp(section string, line, column int, content string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"type":"insert","section_id":%q,"line":%d,"column":%d,"content":%q}`,
		section, line, column, content))
}

func deleteOp(section string, line, column, length int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"type":"delete","section_id":%q,"line":%d,"column":%d,"length":%d}`,
		section, line, column, length))
}

func TestSubmitEditStampsAndBroadcasts(t *testing.T) {
	f := newEditFixture(t)

	result, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID: f.sessionID,
		UserID:    f.aliceID,
		ConnID:    "conn-a",
		Operation: insertOp("intro", 3, 2, "abc"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Edit.ID)
	require.False(t, result.Edit.ServerTimestamp.IsZero())
	require.NotNil(t, result.Edit.AppliedTimestamp)
	require.Empty(t, result.Conflicts)
	require.Nil(t, result.Resolution)

	applied := f.broadcaster.eventsNamed(realtime.EventEditApplied)
	require.Len(t, applied, 1)
	require.Equal(t, "publish_except", applied[0].Kind)
	require.Equal(t, "conn-a", applied[0].ConnID)
	require.Empty(t, f.broadcaster.eventsNamed(realtime.EventConflictDetected))
}

func TestSubmitEditDetectsOverlappingConcurrentEdit(t *testing.T) {
	f := newEditFixture(t)

	// Alice inserts over [2,5) on intro line 3.
	first, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID: f.sessionID,
		UserID:    f.aliceID,
		Operation: insertOp("intro", 3, 2, "abc"),
	})
	require.NoError(t, err)

	// Bob deletes [4,8) on the same line, based on a document state read
	// before Alice's edit was applied.
	staleClock := first.Edit.ServerTimestamp.Add(-time.Millisecond)
	second, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID:       f.sessionID,
		UserID:          f.bobID,
		ConnID:          "conn-b",
		ClientTimestamp: staleClock,
		Operation:       deleteOp("intro", 3, 4, 4),
	})
	require.NoError(t, err)

	// Bob's edit still lands: accept_all means the conflict is recorded,
	// not rejected.
	require.Len(t, second.Conflicts, 1)
	require.Equal(t, first.Edit.ID, second.Conflicts[0].ID)
	require.NotNil(t, second.Resolution)
	require.Equal(t, models.StrategyAcceptAll, second.Resolution.Strategy)

	var ids []string
	require.NoError(t, json.Unmarshal(second.Resolution.EditIDs, &ids))
	require.ElementsMatch(t, []string{first.Edit.ID, second.Edit.ID}, ids)

	var stored models.CollaborativeEdit
	require.NoError(t, f.db.First(&stored, "id = ?", second.Edit.ID).Error)
	require.False(t, stored.Reverted)

	// Everyone else sees the edit; only Bob's connection gets the notice.
	notices := f.broadcaster.eventsNamed(realtime.EventConflictDetected)
	require.Len(t, notices, 1)
	require.Equal(t, "send_to", notices[0].Kind)
	require.Equal(t, "conn-b", notices[0].ConnID)
	require.Len(t, f.broadcaster.eventsNamed(realtime.EventEditApplied), 2)
}

func TestSubmitEditWithoutClientClockChecksFullHistory(t *testing.T) {
	f := newEditFixture(t)

	// Alice inserts over [10,13) on intro line 3.
	first, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID: f.sessionID,
		UserID:    f.aliceID,
		Operation: insertOp("intro", 3, 10, "abc"),
	})
	require.NoError(t, err)

	// Bob deletes the overlapping [8,13) without reporting a clock. An
	// absent clock claims no knowledge of prior edits, so every persisted
	// edit stays eligible for conflict detection.
	second, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID: f.sessionID,
		UserID:    f.bobID,
		Operation: deleteOp("intro", 3, 8, 5),
	})
	require.NoError(t, err)
	require.Len(t, second.Conflicts, 1)
	require.Equal(t, first.Edit.ID, second.Conflicts[0].ID)
	require.NotNil(t, second.Resolution)
}

func TestSubmitEditRejectedAfterSessionEnds(t *testing.T) {
	f := newEditFixture(t)

	require.NoError(t, f.sessions.EndSession(context.Background(), EndSessionParams{
		SessionID: f.sessionID, UserID: f.aliceID,
	}))

	_, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID: f.sessionID,
		UserID:    f.aliceID,
		Operation: insertOp("intro", 0, 0, "hi"),
	})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubmitEditIgnoresNonOverlappingNeighbours(t *testing.T) {
	f := newEditFixture(t)

	first, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID: f.sessionID,
		UserID:    f.aliceID,
		Operation: insertOp("intro", 3, 2, "abc"), // [2,5)
	})
	require.NoError(t, err)
	staleClock := first.Edit.ServerTimestamp.Add(-time.Millisecond)

	// Adjacent range [5,8): touching is not overlapping.
	result, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID:       f.sessionID,
		UserID:          f.bobID,
		ClientTimestamp: staleClock,
		Operation:       deleteOp("intro", 3, 5, 3),
	})
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)

	// Same columns, different line.
	result, err = f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID:       f.sessionID,
		UserID:          f.bobID,
		ClientTimestamp: staleClock,
		Operation:       deleteOp("intro", 4, 2, 3),
	})
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)

	// Same position, different section.
	result, err = f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID:       f.sessionID,
		UserID:          f.bobID,
		ClientTimestamp: staleClock,
		Operation:       deleteOp("methods", 3, 2, 3),
	})
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)
}

func TestSubmitEditSkipsOwnAndRevertedAndSequentialEdits(t *testing.T) {
	f := newEditFixture(t)

	first, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID: f.sessionID,
		UserID:    f.aliceID,
		Operation: insertOp("intro", 3, 2, "abc"),
	})
	require.NoError(t, err)
	staleClock := first.Edit.ServerTimestamp.Add(-time.Millisecond)

	// The author's own earlier edit never conflicts with them.
	result, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID:       f.sessionID,
		UserID:          f.aliceID,
		ClientTimestamp: staleClock,
		Operation:       deleteOp("intro", 3, 2, 3),
	})
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)

	// A client clock after the stored edit means Bob saw it: sequential.
	result, err = f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID:       f.sessionID,
		UserID:          f.bobID,
		ClientTimestamp: time.Now().Add(time.Second),
		Operation:       deleteOp("intro", 3, 2, 3),
	})
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)

	// Reverted edits drop out of detection.
	_, err = f.edits.RevertEdit(context.Background(), RevertEditParams{
		SessionID: f.sessionID, EditID: first.Edit.ID, UserID: f.aliceID,
	})
	require.NoError(t, err)
	result, err = f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID:       f.sessionID,
		UserID:          f.bobID,
		ClientTimestamp: staleClock,
		Operation:       insertOp("intro", 3, 3, "zz"),
	})
	require.NoError(t, err)
	for _, conflict := range result.Conflicts {
		require.NotEqual(t, first.Edit.ID, conflict.ID)
	}
}

func TestSubmitEditRejectsReadOnlyRoles(t *testing.T) {
	f := newEditFixture(t)
	carol := seedUser(t, f.db, "carol")

	_, err := f.sessions.JoinSession(context.Background(), JoinSessionParams{
		SessionID: f.sessionID, UserID: carol.ID, Role: models.RoleViewer,
	})
	require.NoError(t, err)

	_, err = f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID: f.sessionID,
		UserID:    carol.ID,
		Operation: insertOp("intro", 0, 0, "hi"),
	})
	require.ErrorIs(t, err, ErrRoleForbidden)

	stranger := seedUser(t, f.db, "mallory")
	_, err = f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID: f.sessionID,
		UserID:    stranger.ID,
		Operation: insertOp("intro", 0, 0, "hi"),
	})
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestSubmitEditTimestampsAreTotallyOrdered(t *testing.T) {
	f := newEditFixture(t)

	const writers = 4
	const perWriter = 5

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(line int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
					SessionID: f.sessionID,
					UserID:    f.aliceID,
					Operation: insertOp("intro", line, i, "x"),
				})
				require.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	edits, err := f.edits.ListEdits(context.Background(), ListEditsParams{SessionID: f.sessionID})
	require.NoError(t, err)
	require.Len(t, edits, writers*perWriter)
	for i := 1; i < len(edits); i++ {
		require.False(t, edits[i].ServerTimestamp.Before(edits[i-1].ServerTimestamp))
	}
}

func TestRevertEditPermissions(t *testing.T) {
	f := newEditFixture(t)

	result, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
		SessionID: f.sessionID,
		UserID:    f.bobID,
		Operation: insertOp("intro", 1, 0, "hello"),
	})
	require.NoError(t, err)

	carol := seedUser(t, f.db, "carol")
	_, err = f.sessions.JoinSession(context.Background(), JoinSessionParams{
		SessionID: f.sessionID, UserID: carol.ID,
	})
	require.NoError(t, err)

	// A third participant may not revert someone else's edit.
	_, err = f.edits.RevertEdit(context.Background(), RevertEditParams{
		SessionID: f.sessionID, EditID: result.Edit.ID, UserID: carol.ID,
	})
	require.ErrorIs(t, err, ErrRevertForbidden)

	// The session owner may.
	reverted, err := f.edits.RevertEdit(context.Background(), RevertEditParams{
		SessionID: f.sessionID, EditID: result.Edit.ID, UserID: f.aliceID,
	})
	require.NoError(t, err)
	require.True(t, reverted.Reverted)
	require.Len(t, f.broadcaster.eventsNamed(realtime.EventEditReverted), 1)

	// Reverting again is a no-op.
	again, err := f.edits.RevertEdit(context.Background(), RevertEditParams{
		SessionID: f.sessionID, EditID: result.Edit.ID, UserID: f.bobID,
	})
	require.NoError(t, err)
	require.True(t, again.Reverted)
	require.Len(t, f.broadcaster.eventsNamed(realtime.EventEditReverted), 1)

	_, err = f.edits.RevertEdit(context.Background(), RevertEditParams{
		SessionID: f.sessionID, EditID: "00000000-0000-0000-0000-000000000000", UserID: f.aliceID,
	})
	require.ErrorIs(t, err, ErrEditNotFound)
}

func TestListEditsSinceAndLimit(t *testing.T) {
	f := newEditFixture(t)

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		result, err := f.edits.SubmitEdit(context.Background(), SubmitEditParams{
			SessionID: f.sessionID,
			UserID:    f.aliceID,
			Operation: insertOp("intro", i, 0, "x"),
		})
		require.NoError(t, err)
		stamps = append(stamps, result.Edit.ServerTimestamp)
	}

	all, err := f.edits.ListEdits(context.Background(), ListEditsParams{SessionID: f.sessionID})
	require.NoError(t, err)
	require.Len(t, all, 3)

	since := stamps[0]
	later, err := f.edits.ListEdits(context.Background(), ListEditsParams{
		SessionID: f.sessionID, Since: &since,
	})
	require.NoError(t, err)
	require.Len(t, later, 2)

	capped, err := f.edits.ListEdits(context.Background(), ListEditsParams{
		SessionID: f.sessionID, Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, capped, 1)
	require.Equal(t, all[0].ID, capped[0].ID)
}
