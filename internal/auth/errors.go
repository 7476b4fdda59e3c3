package auth

import (
	"fmt"

	"userboard.io/internal/apperr"
)

var (
	ErrNotFound           = apperr.ErrNotFound
	ErrDuplicateEmail     = apperr.ErrDuplicateEmail
	ErrInvalidState       = apperr.ErrInvalidState
	ErrInvalidCredentials = apperr.ErrInvalidCredentials
	ErrAccountNotActive   = apperr.ErrAccountNotActive
	ErrInvalidToken       = apperr.ErrInvalidToken
	ErrInvalidInput       = apperr.ErrInvalidInput
)

// Refresh lookups that hit a record which is no longer usable. Both match
// ErrNotFound so callers collapse them, while logs keep the sub-cause.
var (
	ErrRefreshRevoked = fmt.Errorf("%w: refresh token revoked", apperr.ErrNotFound)
	ErrRefreshExpired = fmt.Errorf("%w: refresh token expired", apperr.ErrNotFound)
)
