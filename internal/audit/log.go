// Package audit records user status transitions.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"userboard.io/internal/auth"
	"userboard.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Trail appends audit entries to a store. Construct it over the transactional
// view of the store that performs the status change it describes.
type Trail struct {
	store  auth.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures Trail.
type Option func(*Trail)

func WithClock(fn func() time.Time) Option {
	return func(t *Trail) {
		if fn != nil {
			t.now = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Trail) {
		if l != nil {
			t.logger = l
		}
	}
}

func NewTrail(store auth.AuditStore, opts ...Option) *Trail {
	t := &Trail{store: store, now: time.Now, logger: obs.Logger()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record appends one entry. Call Log with the returned entry once the
// enclosing transaction has committed.
func (t *Trail) Record(ctx context.Context, userID string, action auth.AuditAction, actorID string, from, to auth.Status, reason string) (*auth.AuditEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("audit: user id is required")
	}
	if strings.TrimSpace(actorID) == "" {
		return nil, errors.New("audit: actor id is required")
	}
	entry := &auth.AuditEntry{
		UserID:    userID,
		Action:    action,
		ActorID:   actorID,
		OldStatus: from,
		NewStatus: to,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: t.now().UTC(),
	}
	if err := t.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit: append %s for %s: %w", action, userID, err)
	}
	return entry, nil
}

// Log emits the audit log line for a persisted entry.
func (t *Trail) Log(ctx context.Context, entry *auth.AuditEntry) {
	if entry == nil {
		return
	}
	attrs := []any{
		slog.String("type", "audit"),
		slog.String("event", "user."+strings.ToLower(string(entry.Action))),
		slog.String("user_id", entry.UserID),
		slog.String("actor_id", entry.ActorID),
		slog.String("new_status", string(entry.NewStatus)),
	}
	if entry.OldStatus != "" {
		attrs = append(attrs, slog.String("old_status", string(entry.OldStatus)))
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	t.logger.InfoContext(ctx, "audit", attrs...)
}

// History returns the entries recorded for userID, newest first.
func (t *Trail) History(ctx context.Context, userID string) ([]*auth.AuditEntry, error) {
	return t.store.ListByUser(ctx, userID)
}
