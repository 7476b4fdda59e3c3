// Package token issues and validates RS256-signed access and refresh tokens.
package token

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"userboard.io/internal/apperr"
	"userboard.io/internal/keys"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Validation failures. All of them match apperr.ErrInvalidToken.
var (
	ErrExpired         = fmt.Errorf("%w: expired", apperr.ErrInvalidToken)
	ErrSignature       = fmt.Errorf("%w: signature mismatch", apperr.ErrInvalidToken)
	ErrMalformed       = fmt.Errorf("%w: malformed", apperr.ErrInvalidToken)
	ErrWrongType       = fmt.Errorf("%w: unexpected token type", apperr.ErrInvalidToken)
	ErrSubjectMismatch = fmt.Errorf("%w: subject mismatch", apperr.ErrInvalidToken)
)

// Claims is the flat claim set carried by both token types. Email and Roles
// are empty on refresh tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	Roles string `json:"roles,omitempty"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// RoleList splits the comma-joined roles claim.
func (c *Claims) RoleList() []string {
	if c == nil || c.Roles == "" {
		return nil
	}
	parts := strings.Split(c.Roles, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Issued is a signed token with its expiry.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// Service signs and verifies tokens with a single key pair.
type Service struct {
	keys       *keys.Material
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures Service.
type Option func(*Service) error

// WithIssuer sets the iss claim and requires it on validation.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: access token ttl must be positive", apperr.ErrConfiguration)
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: refresh token ttl must be positive", apperr.ErrConfiguration)
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// New constructs a Service around an already loaded key pair.
func New(material *keys.Material, opts ...Option) (*Service, error) {
	if material == nil {
		return nil, fmt.Errorf("%w: key material is required", apperr.ErrConfiguration)
	}
	s := &Service{
		keys:       material,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs a short-lived token carrying identity and roles.
func (s *Service) IssueAccessToken(userID, email string, roles []string) (Issued, error) {
	if strings.TrimSpace(userID) == "" {
		return Issued{}, fmt.Errorf("%w: user id is required", apperr.ErrInvalidInput)
	}
	return s.sign(Claims{
		Email: email,
		Roles: strings.Join(roles, ","),
		Type:  TypeAccess,
	}, userID, s.accessTTL)
}

// IssueRefreshToken signs a long-lived token carrying only the subject.
func (s *Service) IssueRefreshToken(userID string) (Issued, error) {
	if strings.TrimSpace(userID) == "" {
		return Issued{}, fmt.Errorf("%w: user id is required", apperr.ErrInvalidInput)
	}
	return s.sign(Claims{Type: TypeRefresh}, userID, s.refreshTTL)
}

func (s *Service) sign(claims Claims, subject string, ttl time.Duration) (Issued, error) {
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.keys.KeyID()
	signed, err := tok.SignedString(s.keys.Signer())
	if err != nil {
		return Issued{}, fmt.Errorf("sign token: %w", err)
	}
	return Issued{
		Token:     signed,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Parse verifies signature and expiry and, when wantType is non-empty, the
// token type. The returned error is one of the package Err values.
func (s *Service) Parse(raw, wantType string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims := &Claims{}
	if _, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, s.keyFunc); err != nil {
		return nil, classify(err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrMalformed)
	}
	if wantType != "" && claims.Type != wantType {
		return nil, ErrWrongType
	}
	return claims, nil
}

// Validate reports whether raw is authentic, unexpired and issued to
// expectedUserID. It never skips the expiry check.
func (s *Service) Validate(raw, expectedUserID string) bool {
	_, err := s.Verify(raw, expectedUserID)
	return err == nil
}

// Verify is Validate with the failure cause.
func (s *Service) Verify(raw, expectedUserID string) (*Claims, error) {
	claims, err := s.Parse(raw, "")
	if err != nil {
		return nil, err
	}
	if claims.Subject != expectedUserID {
		return nil, ErrSubjectMismatch
	}
	return claims, nil
}

// ExtractClaims verifies the signature but not the time-based claims. It is
// meant for error paths that need to report who held a rejected token.
func (s *Service) ExtractClaims(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, s.keyFunc); err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// ExtractClaim applies selector to the signature-verified claims of raw.
func ExtractClaim[T any](s *Service, raw string, selector func(*Claims) T) (T, error) {
	var zero T
	claims, err := s.ExtractClaims(raw)
	if err != nil {
		return zero, err
	}
	return selector(claims), nil
}

// HashToken is the storage representation of a refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func (s *Service) keyFunc(*jwt.Token) (any, error) {
	return s.keys.Verifier(), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrSignature, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}
