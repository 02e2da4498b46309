// Package alerts delivers fire-and-forget notifications to accounts. The
// engine only sees the Notifier interface; delivery goes through an asynq
// queue when Redis is configured and straight to the in-app inbox
// otherwise.
package alerts

import (
	"context"
	"log/slog"
	"time"
)

// Task type and queue names.
const (
	TaskNotifyAccount  = "notify:account"
	QueueNotifications = "notifications"
)

type Notifier interface {
	Notify(ctx context.Context, accountID, message, url string) error
}

type NotificationPayload struct {
	AccountID string    `json:"account_id"`
	Message   string    `json:"message"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Send notifies through n and logs failures. Notification problems never
// fail the caller's operation.
func Send(ctx context.Context, n Notifier, accountID, message, url string) {
	if n == nil || accountID == "" {
		return
	}
	if err := n.Notify(ctx, accountID, message, url); err != nil {
		slog.WarnContext(ctx, "notification failed", "account_id", accountID, "url", url, "error", err)
	}
}
