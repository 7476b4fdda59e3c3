package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	Audit(ctx context.Context) AuditStore

	// WithinTx runs fn against a transactional view of the store. Nothing fn
	// writes is visible to others unless fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// UserStore manages users. Emails are compared case-insensitively.
type UserStore interface {
	// Create fails with ErrDuplicateEmail on a colliding email.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// UpdateStatus moves the user from one status to another; a user no
	// longer in from yields ErrInvalidState.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error
	// ListByStatus returns users oldest first.
	ListByStatus(ctx context.Context, status Status) ([]*User, error)
	// List returns a page of users newest first, plus the total count.
	List(ctx context.Context, page Page) ([]*User, int64, error)
	CountByStatus(ctx context.Context) (StatusCounts, error)
}

// RefreshTokenStore manages refresh token lifecycle.
type RefreshTokenStore interface {
	Store(ctx context.Context, tok *RefreshToken) error
	// FindValid returns ErrRefreshRevoked, ErrRefreshExpired or ErrNotFound
	// for unusable hashes.
	FindValid(ctx context.Context, hash string, now time.Time) (*RefreshToken, error)
	// RevokeByHash reports how many live records it revoked; zero means the
	// hash was unknown or already revoked.
	RevokeByHash(ctx context.Context, hash string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	// PurgeExpiredBefore deletes records expired at now and revoked records
	// created before revokedBefore.
	PurgeExpiredBefore(ctx context.Context, now, revokedBefore time.Time) (int64, error)
	CountValidForUser(ctx context.Context, userID string, now time.Time) (int64, error)
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	// ListByUser returns entries newest first.
	ListByUser(ctx context.Context, userID string) ([]*AuditEntry, error)
}
