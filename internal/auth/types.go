package auth

import (
	"math"
	"slices"
	"strings"
	"time"
)

// Status is the onboarding state of a user.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusRejected Status = "REJECTED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRejected:
		return true
	}
	return false
}

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// ActorSystem identifies self-service actions in the audit trail.
const ActorSystem = "system"

// User is a registered account. PasswordHash never leaves the service layer.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	Roles        []string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRole reports whether the user holds role (case-insensitive).
func (u *User) HasRole(role string) bool {
	return slices.ContainsFunc(u.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// View strips credentials.
func (u *User) View() UserView {
	return UserView{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		Roles:     slices.Clone(u.Roles),
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// UserView is the outward representation of a user.
type UserView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Roles     []string  `json:"roles"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefreshToken is a persisted refresh token. Only the hash is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// ValidAt reports whether the record can still be exchanged at now.
func (t *RefreshToken) ValidAt(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// AuditAction names a user status transition.
type AuditAction string

const (
	ActionCreated  AuditAction = "CREATED"
	ActionApproved AuditAction = "APPROVED"
	ActionRejected AuditAction = "REJECTED"
)

// AuditEntry is an append-only record of one transition.
type AuditEntry struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Action    AuditAction `json:"action"`
	ActorID   string      `json:"actor_id"`
	OldStatus Status      `json:"old_status,omitempty"`
	NewStatus Status      `json:"new_status"`
	Reason    string      `json:"reason,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Page selects a window of a listing. Number is zero-based.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPageNumber keeps Offset within int.
	MaxPageNumber = math.MaxInt / MaxPageSize
)

// Normalize clamps the page into supported bounds.
func (p Page) Normalize() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Number > MaxPageNumber {
		p.Number = MaxPageNumber
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the number of rows skipped. Call it on a normalized page.
func (p Page) Offset() int { return p.Number * p.Size }

// StatusCounts summarises users per status.
type StatusCounts struct {
	Pending  int64 `json:"pending"`
	Active   int64 `json:"active"`
	Rejected int64 `json:"rejected"`
}

// Total is the sum across statuses.
func (c StatusCounts) Total() int64 { return c.Pending + c.Active + c.Rejected }

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func joinRoles(roles []string) string { return strings.Join(roles, ",") }

func splitRoles(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
