package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"userboard.io/internal/obs"
	"userboard.io/internal/token"
)

const defaultRevokedRetention = 24 * time.Hour

// Service orchestrates login, refresh and logout.
type Service struct {
	store     Store
	directory *Directory
	tokens    *token.Service
	now       func() time.Time
	logger    *slog.Logger

	rotate           bool
	revokedRetention time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRotation makes Refresh revoke the presented refresh token and hand out
// a new one. Off by default.
func WithRotation(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.rotate = enabled
		return nil
	}
}

// WithRevokedRetention sets how long revoked refresh records are kept before
// PurgeExpired removes them.
func WithRevokedRetention(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d < 0 {
			return errors.New("revoked retention must not be negative")
		}
		s.revokedRetention = d
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger sets the logger used for failure sub-causes.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *token.Service, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil {
		return nil, errors.New("auth: store and token service are required")
	}
	svc := &Service{
		store:            store,
		directory:        NewDirectory(store),
		tokens:           tokens,
		now:              time.Now,
		logger:           obs.Logger(),
		revokedRetention: defaultRevokedRetention,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Directory exposes the user directory backing this service.
func (s *Service) Directory() *Directory { return s.directory }

// LoginResult is returned by Login.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	ExpiresIn        int64
	User             UserView
}

// RefreshResult is returned by Refresh. RefreshToken is set only when
// rotation is enabled.
type RefreshResult struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	ExpiresIn        int64
	User             UserView
}

// Login verifies credentials and issues an access/refresh pair.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.directory.VerifyCredential(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			obs.RecordLogin("invalid_credentials")
			s.logger.InfoContext(ctx, "login rejected",
				slog.String("reason", "invalid_credentials"),
				slog.String("email", NormalizeEmail(email)))
			return LoginResult{}, ErrInvalidCredentials
		}
		obs.RecordLogin("error")
		return LoginResult{}, err
	}
	if user.Status != StatusActive {
		obs.RecordLogin("not_active")
		s.logger.InfoContext(ctx, "login rejected",
			slog.String("reason", "account_not_active"),
			slog.String("user_id", user.ID),
			slog.String("status", string(user.Status)))
		return LoginResult{}, ErrAccountNotActive
	}

	access, err := s.tokens.IssueAccessToken(user.ID, user.Email, user.Roles)
	if err != nil {
		return LoginResult{}, err
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	rec := &RefreshToken{
		UserID:    user.ID,
		TokenHash: token.HashToken(refresh.Token),
		ExpiresAt: refresh.ExpiresAt,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.RefreshTokens(ctx).Store(ctx, rec); err != nil {
		obs.RecordLogin("error")
		return LoginResult{}, fmt.Errorf("store refresh token: %w", err)
	}

	obs.RecordLogin("success")
	s.logger.InfoContext(ctx, "login succeeded", slog.String("user_id", user.ID))
	return LoginResult{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		ExpiresIn:        int64(s.tokens.AccessTTL() / time.Second),
		User:             user.View(),
	}, nil
}

// Refresh exchanges a stored, unrevoked refresh token for a new access token.
// Every token-level failure collapses into ErrInvalidToken; the specific cause
// is logged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		obs.RecordRefresh("invalid")
		return RefreshResult{}, ErrInvalidToken
	}
	claims, err := s.tokens.Parse(refreshToken, token.TypeRefresh)
	if err != nil {
		s.rejectRefresh(ctx, refreshToken, err)
		return RefreshResult{}, ErrInvalidToken
	}

	now := s.now()
	hash := token.HashToken(refreshToken)
	var result RefreshResult
	err = s.store.WithinTx(ctx, func(tx Store) error {
		rec, err := tx.RefreshTokens(ctx).FindValid(ctx, hash, now)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.rejectRefresh(ctx, refreshToken, err)
				return ErrInvalidToken
			}
			return err
		}
		if rec.UserID != claims.Subject {
			s.rejectRefresh(ctx, refreshToken, token.ErrSubjectMismatch)
			return ErrInvalidToken
		}

		user, err := tx.Users(ctx).Find(ctx, rec.UserID)
		if err != nil {
			return err
		}
		access, err := s.tokens.IssueAccessToken(user.ID, user.Email, user.Roles)
		if err != nil {
			return err
		}
		result = RefreshResult{
			AccessToken:      access.Token,
			RefreshExpiresAt: rec.ExpiresAt,
			ExpiresIn:        int64(s.tokens.AccessTTL() / time.Second),
			User:             user.View(),
		}
		if !s.rotate {
			return nil
		}

		// A concurrent refresh that revoked this record first wins.
		revoked, err := tx.RefreshTokens(ctx).RevokeByHash(ctx, hash)
		if err != nil {
			return err
		}
		if revoked == 0 {
			s.rejectRefresh(ctx, refreshToken, ErrRefreshRevoked)
			return ErrInvalidToken
		}
		next, err := s.tokens.IssueRefreshToken(user.ID)
		if err != nil {
			return err
		}
		if err := tx.RefreshTokens(ctx).Store(ctx, &RefreshToken{
			UserID:    user.ID,
			TokenHash: token.HashToken(next.Token),
			ExpiresAt: next.ExpiresAt,
			CreatedAt: now.UTC(),
		}); err != nil {
			return err
		}
		result.RefreshToken = next.Token
		result.RefreshExpiresAt = next.ExpiresAt
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			obs.RecordRefresh("error")
		}
		return RefreshResult{}, err
	}
	obs.RecordRefresh("success")
	return result, nil
}

func (s *Service) rejectRefresh(ctx context.Context, raw string, cause error) {
	obs.RecordRefresh("invalid")
	attrs := []any{slog.String("cause", cause.Error())}
	if sub, err := token.ExtractClaim(s.tokens, raw, func(c *token.Claims) string { return c.Subject }); err == nil {
		attrs = append(attrs, slog.String("user_id", sub))
	}
	s.logger.InfoContext(ctx, "refresh rejected", attrs...)
}

// Logout revokes the refresh token. It never fails the caller; storage errors
// are logged.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return
	}
	if _, err := s.store.RefreshTokens(ctx).RevokeByHash(ctx, token.HashToken(refreshToken)); err != nil {
		s.logger.WarnContext(ctx, "logout revoke failed", slog.String("error", err.Error()))
	}
}

// LogoutAll revokes every refresh token of userID and returns how many were
// still active.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	n, err := s.store.RefreshTokens(ctx).RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "sessions revoked", slog.String("user_id", userID), slog.Int64("count", n))
	return n, nil
}

// Authenticate validates an access token and returns its principal.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.Parse(accessToken, token.TypeAccess)
	if err != nil {
		s.logger.DebugContext(ctx, "access token rejected", slog.String("cause", err.Error()))
		return Principal{}, ErrInvalidToken
	}
	return Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Roles:  claims.RoleList(),
	}, nil
}

// ActiveSessions counts unexpired, unrevoked refresh tokens of userID.
func (s *Service) ActiveSessions(ctx context.Context, userID string) (int64, error) {
	return s.store.RefreshTokens(ctx).CountValidForUser(ctx, userID, s.now())
}

// PurgeExpired deletes expired refresh records and revoked ones older than
// the retention window.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.store.RefreshTokens(ctx).PurgeExpiredBefore(ctx, now, now.Add(-s.revokedRetention))
	if err != nil {
		return 0, err
	}
	obs.AddPurged(n)
	return n, nil
}
