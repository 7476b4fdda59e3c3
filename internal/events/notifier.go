package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"userboard.io/internal/obs"
)

// LogNotifier stands in for email delivery: it logs the message a user
// would receive for each lifecycle event that asks for one.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = obs.Logger()
	}
	return &LogNotifier{logger: logger}
}

// Handle is an events.Handler.
func (n *LogNotifier) Handle(ctx context.Context, evt Event) error {
	switch evt.Topic {
	case TopicUserApproved:
		var p UserApproved
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", evt.Topic, err)
		}
		if !p.SendWelcomeEmail {
			return nil
		}
		n.send(ctx, "welcome", p.Email, p.UserID)
	case TopicUserRejected:
		var p UserRejected
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", evt.Topic, err)
		}
		if !p.SendNotificationEmail {
			return nil
		}
		n.send(ctx, "rejection", p.Email, p.UserID)
	case TopicUserRegistered:
		var p UserRegistered
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", evt.Topic, err)
		}
		if p.RequiresApproval {
			n.logger.InfoContext(ctx, "registration awaiting approval", slog.String("user_id", p.UserID))
		}
	}
	return nil
}

func (n *LogNotifier) send(ctx context.Context, template, email, userID string) {
	n.logger.InfoContext(ctx, "notification queued",
		slog.String("template", template),
		slog.String("to", email),
		slog.String("user_id", userID),
	)
}
