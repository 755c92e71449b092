package services

import (
	"errors"
	"fmt"

	"github.com/lordvitaly/lvchat/internal/store"
	apperrors "github.com/lordvitaly/lvchat/pkg/errors"
)

// translateStoreError maps store outcomes onto API errors. what names the
// missing resource in client messages, e.g. "Session" or "Character Capitano".
func translateStoreError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NewNotFound(what + " not found")
	case errors.Is(err, store.ErrExpired):
		return apperrors.NewGone(what + " expired")
	case errors.Is(err, store.ErrInvalidKey), errors.Is(err, store.ErrInvalidValue):
		return apperrors.NewBadRequest(err.Error()).WithInternal(err)
	default:
		return apperrors.Wrap(err, fmt.Sprintf("%s storage failure", what))
	}
}
