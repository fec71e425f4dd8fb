package services

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrSessionNotFound indicates the session does not exist or has ended.
	// Ended sessions are indistinguishable from missing ones to callers: the
	// session id is terminal either way.
	ErrSessionNotFound = errors.New("collab: session not found or inactive")
	// ErrManuscriptSessionExists indicates an active session is already
	// registered for the manuscript.
	ErrManuscriptSessionExists = errors.New("collab: active session already exists for manuscript")
	// ErrNotSessionOwner indicates an operation reserved to the session
	// owner was attempted by someone else.
	ErrNotSessionOwner = errors.New("collab: only the session owner may perform this operation")
	// ErrNotParticipant indicates the user has not joined the session.
	ErrNotParticipant = errors.New("collab: user is not a session participant")
	// ErrCommentNotFound indicates the comment record could not be located.
	ErrCommentNotFound = errors.New("collab: comment not found")
	// ErrSnapshotNotFound indicates the snapshot version does not exist.
	ErrSnapshotNotFound = errors.New("collab: snapshot version not found")
	// ErrEditNotFound indicates the edit record could not be located.
	ErrEditNotFound = errors.New("collab: edit not found")
	// ErrRoleForbidden indicates the participant's role does not permit the
	// attempted operation.
	ErrRoleForbidden = errors.New("collab: participant role does not permit this operation")
	// ErrRevertForbidden indicates the caller may not revert the edit.
	ErrRevertForbidden = errors.New("collab: only the author or session owner may revert an edit")
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}
