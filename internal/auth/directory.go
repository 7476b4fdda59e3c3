package auth

import (
	"context"
	"errors"
	"strings"
)

// Directory resolves users and verifies their credentials.
type Directory struct {
	store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

func (d *Directory) FindByID(ctx context.Context, id string) (*User, error) {
	return d.store.Users(ctx).Find(ctx, strings.TrimSpace(id))
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*User, error) {
	return d.store.Users(ctx).FindByEmail(ctx, email)
}

// VerifyCredential returns the user owning email when password matches.
// Unknown emails and wrong passwords both yield ErrInvalidCredentials.
func (d *Directory) VerifyCredential(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := d.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
