// Package onboarding drives users through registration and admin approval.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"

	"userboard.io/internal/audit"
	"userboard.io/internal/auth"
	"userboard.io/internal/events"
	"userboard.io/internal/obs"
)

// Accepted password lengths in bytes. bcrypt refuses anything longer than
// MaxPasswordLength.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

const (
	ReasonRegistered = "User registered via API"
	ReasonApproved   = "Approved by admin"
	ReasonRejected   = "Rejected by admin"
	ReasonBootstrap  = "Bootstrap administrator"
)

// RegisterInput is the self-service registration request.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// UserPage is one page of the admin listing.
type UserPage struct {
	Users []auth.UserView `json:"users"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

// Machine owns every user status change. A transition and its audit entry
// commit together; the lifecycle event is published only after commit.
type Machine struct {
	store       auth.Store
	publisher   events.Publisher
	transitions map[auth.Status]map[auth.Status]auth.AuditAction
	now         func() time.Time
	logger      *slog.Logger
	region      string
}

// Option configures Machine.
type Option func(*Machine)

func WithClock(fn func() time.Time) Option {
	return func(m *Machine) {
		if fn != nil {
			m.now = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPhoneRegion sets the region used to interpret numbers written without
// a country code. Defaults to "US".
func WithPhoneRegion(region string) Option {
	return func(m *Machine) {
		if region = strings.ToUpper(strings.TrimSpace(region)); region != "" {
			m.region = region
		}
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

// New builds a Machine. A nil publisher discards events.
func New(store auth.Store, publisher events.Publisher, opts ...Option) *Machine {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	m := &Machine{
		store:     store,
		publisher: publisher,
		transitions: map[auth.Status]map[auth.Status]auth.AuditAction{
			auth.StatusPending: {
				auth.StatusActive:   auth.ActionApproved,
				auth.StatusRejected: auth.ActionRejected,
			},
		},
		now:    time.Now,
		logger: obs.Logger(),
		region: "US",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// CanTransition reports whether from -> to is allowed.
func (m *Machine) CanTransition(from, to auth.Status) bool {
	_, ok := m.transitions[from][to]
	return ok
}

func (m *Machine) trail(ctx context.Context, tx auth.Store) *audit.Trail {
	return audit.NewTrail(tx.Audit(ctx), audit.WithClock(m.now), audit.WithLogger(m.logger))
}

// Register creates a PENDING user with the USER role.
func (m *Machine) Register(ctx context.Context, in RegisterInput) (auth.UserView, error) {
	user, err := m.validate(in)
	if err != nil {
		return auth.UserView{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return auth.UserView{}, fmt.Errorf("hash password: %w", err)
	}
	now := m.now().UTC()
	user.PasswordHash = hash
	user.Roles = []string{auth.RoleUser}
	user.Status = auth.StatusPending
	user.CreatedAt = now
	user.UpdatedAt = now

	var entry *auth.AuditEntry
	err = m.store.WithinTx(ctx, func(tx auth.Store) error {
		if err := tx.Users(ctx).Create(ctx, user); err != nil {
			return err
		}
		entry, err = m.trail(ctx, tx).Record(ctx, user.ID, auth.ActionCreated, auth.ActorSystem, "", auth.StatusPending, ReasonRegistered)
		return err
	})
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateEmail) {
			m.logger.InfoContext(ctx, "registration rejected", slog.String("reason", "duplicate_email"))
		}
		return auth.UserView{}, err
	}

	m.trail(ctx, m.store).Log(ctx, entry)
	obs.RecordTransition(string(auth.ActionCreated))
	m.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID))
	m.publisher.Publish(events.TopicUserRegistered, events.NewUserRegistered(user, now))
	return user.View(), nil
}

func (m *Machine) validate(in RegisterInput) (*auth.User, error) {
	email := auth.NormalizeEmail(in.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", auth.ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: email is not valid", auth.ErrInvalidInput)
	}
	if len(in.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", auth.ErrInvalidInput, MinPasswordLength)
	}
	if len(in.Password) > MaxPasswordLength {
		return nil, fmt.Errorf("%w: password must be at most %d bytes", auth.ErrInvalidInput, MaxPasswordLength)
	}
	phone, err := m.normalizePhone(in.Phone)
	if err != nil {
		return nil, err
	}
	return &auth.User{
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Phone:     phone,
	}, nil
}

// normalizePhone returns the E.164 form; empty input stays empty.
func (m *Machine) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(raw, m.region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: phone number is not valid", auth.ErrInvalidInput)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Approve moves a PENDING user to ACTIVE.
func (m *Machine) Approve(ctx context.Context, userID, actorID, reason string) (auth.UserView, error) {
	if strings.TrimSpace(reason) == "" {
		reason = ReasonApproved
	}
	u, err := m.transition(ctx, userID, actorID, auth.StatusActive, reason)
	if err != nil {
		return auth.UserView{}, err
	}
	m.publisher.Publish(events.TopicUserApproved, events.NewUserApproved(u, actorID, u.UpdatedAt))
	return u.View(), nil
}

// Reject moves a PENDING user to REJECTED.
func (m *Machine) Reject(ctx context.Context, userID, actorID, reason string) (auth.UserView, error) {
	if strings.TrimSpace(reason) == "" {
		reason = ReasonRejected
	}
	u, err := m.transition(ctx, userID, actorID, auth.StatusRejected, reason)
	if err != nil {
		return auth.UserView{}, err
	}
	m.publisher.Publish(events.TopicUserRejected, events.NewUserRejected(u, actorID, reason, u.UpdatedAt))
	return u.View(), nil
}

func (m *Machine) transition(ctx context.Context, userID, actorID string, to auth.Status, reason string) (*auth.User, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, fmt.Errorf("%w: actor is required", auth.ErrInvalidInput)
	}
	var (
		user   *auth.User
		action auth.AuditAction
		entry  *auth.AuditEntry
	)
	err := m.store.WithinTx(ctx, func(tx auth.Store) error {
		u, err := tx.Users(ctx).Find(ctx, userID)
		if err != nil {
			return err
		}
		from := u.Status
		act, ok := m.transitions[from][to]
		if !ok {
			return fmt.Errorf("%w: cannot move %s user to %s", auth.ErrInvalidState, from, to)
		}
		at := m.now().UTC()
		if err := tx.Users(ctx).UpdateStatus(ctx, u.ID, from, to, at); err != nil {
			return err
		}
		if entry, err = m.trail(ctx, tx).Record(ctx, u.ID, act, actorID, from, to, reason); err != nil {
			return err
		}
		u.Status = to
		u.UpdatedAt = at
		user, action = u, act
		return nil
	})
	if err != nil {
		m.logger.InfoContext(ctx, "status change rejected",
			slog.String("user_id", userID),
			slog.String("target", string(to)),
			slog.String("error", err.Error()))
		return nil, err
	}
	m.trail(ctx, m.store).Log(ctx, entry)
	obs.RecordTransition(string(action))
	m.logger.InfoContext(ctx, "user status changed",
		slog.String("user_id", user.ID),
		slog.String("status", string(to)),
		slog.String("actor_id", actorID))
	return user, nil
}

// Bootstrap ensures an ACTIVE administrator exists for email. An existing
// account is returned unchanged.
func (m *Machine) Bootstrap(ctx context.Context, email, password string) (auth.UserView, error) {
	existing, err := m.store.Users(ctx).FindByEmail(ctx, email)
	if err == nil {
		if !existing.HasRole(auth.RoleAdmin) {
			m.logger.WarnContext(ctx, "bootstrap account exists without admin role", slog.String("user_id", existing.ID))
		}
		return existing.View(), nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return auth.UserView{}, err
	}

	user, err := m.validate(RegisterInput{Email: email, Password: password})
	if err != nil {
		return auth.UserView{}, err
	}
	if user.PasswordHash, err = auth.HashPassword(password); err != nil {
		return auth.UserView{}, fmt.Errorf("hash password: %w", err)
	}
	now := m.now().UTC()
	user.Roles = []string{auth.RoleUser, auth.RoleAdmin}
	user.Status = auth.StatusActive
	user.CreatedAt = now
	user.UpdatedAt = now

	var entry *auth.AuditEntry
	err = m.store.WithinTx(ctx, func(tx auth.Store) error {
		if err := tx.Users(ctx).Create(ctx, user); err != nil {
			return err
		}
		entry, err = m.trail(ctx, tx).Record(ctx, user.ID, auth.ActionCreated, auth.ActorSystem, "", auth.StatusActive, ReasonBootstrap)
		return err
	})
	if err != nil {
		return auth.UserView{}, err
	}
	m.trail(ctx, m.store).Log(ctx, entry)
	m.logger.InfoContext(ctx, "bootstrap administrator created", slog.String("user_id", user.ID))
	return user.View(), nil
}

// Get returns one user.
func (m *Machine) Get(ctx context.Context, userID string) (auth.UserView, error) {
	u, err := m.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return auth.UserView{}, err
	}
	return u.View(), nil
}

// Pending returns the approval queue, oldest first.
func (m *Machine) Pending(ctx context.Context) ([]auth.UserView, error) {
	users, err := m.store.Users(ctx).ListByStatus(ctx, auth.StatusPending)
	if err != nil {
		return nil, err
	}
	return views(users), nil
}

// List returns users newest first.
func (m *Machine) List(ctx context.Context, page auth.Page) (UserPage, error) {
	page = page.Normalize()
	users, total, err := m.store.Users(ctx).List(ctx, page)
	if err != nil {
		return UserPage{}, err
	}
	return UserPage{Users: views(users), Total: total, Page: page.Number, Size: page.Size}, nil
}

func (m *Machine) Statistics(ctx context.Context) (auth.StatusCounts, error) {
	return m.store.Users(ctx).CountByStatus(ctx)
}

// History returns the audit trail of a user, newest first.
func (m *Machine) History(ctx context.Context, userID string) ([]*auth.AuditEntry, error) {
	if _, err := m.store.Users(ctx).Find(ctx, userID); err != nil {
		return nil, err
	}
	return m.trail(ctx, m.store).History(ctx, userID)
}

func views(users []*auth.User) []auth.UserView {
	out := make([]auth.UserView, 0, len(users))
	for _, u := range users {
		out = append(out, u.View())
	}
	return out
}
