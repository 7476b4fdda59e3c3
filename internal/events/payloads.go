package events

import (
	"time"

	"userboard.io/internal/auth"
)

// Lifecycle topics.
const (
	TopicUserRegistered = "user.registered"
	TopicUserApproved   = "user.approved"
	TopicUserRejected   = "user.rejected"
)

// userFields is shared by every lifecycle payload.
type userFields struct {
	EventType string      `json:"eventType"`
	UserID    string      `json:"userId"`
	Email     string      `json:"email"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Status    auth.Status `json:"status"`
	Timestamp int64       `json:"timestamp"`
}

func fieldsFor(eventType string, u *auth.User, at time.Time) userFields {
	return userFields{
		EventType: eventType,
		UserID:    u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Status:    u.Status,
		Timestamp: at.UnixMilli(),
	}
}

type UserRegistered struct {
	userFields
	RequiresApproval bool `json:"requiresApproval"`
}

type UserApproved struct {
	userFields
	ApprovedBy       string `json:"approvedBy"`
	SendWelcomeEmail bool   `json:"sendWelcomeEmail"`
}

type UserRejected struct {
	userFields
	RejectedBy            string `json:"rejectedBy"`
	Reason                string `json:"reason"`
	SendNotificationEmail bool   `json:"sendNotificationEmail"`
}

// NewUserRegistered builds the payload for a freshly registered user.
func NewUserRegistered(u *auth.User, at time.Time) UserRegistered {
	return UserRegistered{
		userFields:       fieldsFor("USER_REGISTERED", u, at),
		RequiresApproval: u.Status == auth.StatusPending,
	}
}

func NewUserApproved(u *auth.User, actorID string, at time.Time) UserApproved {
	return UserApproved{
		userFields:       fieldsFor("USER_APPROVED", u, at),
		ApprovedBy:       actorID,
		SendWelcomeEmail: true,
	}
}

func NewUserRejected(u *auth.User, actorID, reason string, at time.Time) UserRejected {
	return UserRejected{
		userFields:            fieldsFor("USER_REJECTED", u, at),
		RejectedBy:            actorID,
		Reason:                reason,
		SendNotificationEmail: true,
	}
}
