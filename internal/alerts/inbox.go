package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/homebid/internal/store"
)

var ErrNotFound = errors.New("notification not found or already read")

type Notification struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Message   string     `json:"message"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at"`
}

// Inbox stores in-app notifications and optionally mirrors them by email.
type Inbox struct {
	db     *store.DB
	mailer Mailer
	now    func() time.Time
}

func NewInbox(db *store.DB) *Inbox {
	return &Inbox{db: db, now: time.Now}
}

func (i *Inbox) SetMailer(m Mailer) { i.mailer = m }
func (i *Inbox) SetClock(now func() time.Time) { i.now = now }

// Notify writes the notification directly; used when no queue is configured.
func (i *Inbox) Notify(ctx context.Context, accountID, message, url string) error {
	return i.deliver(ctx, NotificationPayload{
		AccountID: accountID,
		Message:   message,
		URL:       url,
		CreatedAt: i.now().UTC(),
	})
}

// ProcessTask handles notify:account tasks from the queue.
func (i *Inbox) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p NotificationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decoding notification: %v: %w", err, asynq.SkipRetry)
	}
	if p.AccountID == "" {
		return fmt.Errorf("notification without account: %w", asynq.SkipRetry)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = i.now().UTC()
	}
	return i.deliver(ctx, p)
}

func (i *Inbox) deliver(ctx context.Context, p NotificationPayload) error {
	_, err := i.db.Exec(ctx,
		`INSERT INTO notifications (id, account_id, message, url, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), p.AccountID, p.Message, p.URL, p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	if i.mailer == nil {
		return nil
	}
	var email string
	err = i.db.QueryRow(ctx, `SELECT email FROM accounts WHERE id = ? AND is_active = ?`, p.AccountID, true).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up email: %w", err)
	}
	// email is best-effort; the in-app copy is already stored
	if err := i.mailer.Send(ctx, email, p.Message, p.Message+"\n\n"+p.URL); err != nil {
		slog.WarnContext(ctx, "notification email failed", "account_id", p.AccountID, "error", err)
	}
	return nil
}

// List returns the account's notifications, newest first.
func (i *Inbox) List(ctx context.Context, accountID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := i.db.Query(ctx,
		`SELECT id, account_id, message, url, created_at, read_at
		 FROM notifications WHERE account_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	items := []Notification{}
	for rows.Next() {
		var n Notification
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Message, &n.URL, &n.CreatedAt, &readAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (i *Inbox) MarkRead(ctx context.Context, accountID, id string) error {
	ok, err := store.ExecOne(ctx, i.db,
		`UPDATE notifications SET read_at = ? WHERE id = ? AND account_id = ? AND read_at IS NULL`,
		i.now().UTC(), id, accountID,
	)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
