package handlers

import (
	"errors"

	"github.com/inkwell-hq/inkwell/internal/services"
	apperrors "github.com/inkwell-hq/inkwell/pkg/errors"
)

// mapServiceError translates service sentinels into API errors so the
// response envelope carries the right status and code.
func mapServiceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrSessionNotFound):
		return apperrors.ErrSessionNotFound.WithInternal(err)
	case errors.Is(err, services.ErrManuscriptSessionExists):
		return apperrors.ErrSessionConflict.WithInternal(err)
	case errors.Is(err, services.ErrCommentNotFound),
		errors.Is(err, services.ErrEditNotFound),
		errors.Is(err, services.ErrSnapshotNotFound):
		return apperrors.ErrNotFound.WithInternal(err)
	case errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, services.ErrNotSessionOwner),
		errors.Is(err, services.ErrRoleForbidden),
		errors.Is(err, services.ErrRevertForbidden):
		return apperrors.ErrForbidden.WithInternal(err)
	default:
		return err
	}
}
