// Package messaging is the chat between a buyer and the agent who won
// their showing. Messages are stored per showing request and pushed to
// websocket subscribers as they arrive.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sudo-init-do/homebid/internal/alerts"
	"github.com/sudo-init-do/homebid/internal/showing"
	"github.com/sudo-init-do/homebid/internal/store"
)

const maxMessageLen = 4000

var (
	ErrChatClosed     = errors.New("chat opens once an agent has been awarded the showing")
	ErrNotParticipant = errors.New("not a participant in this showing")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrTooLong        = errors.New("message is too long")
)

// RequestSource looks up showing requests. *showing.Service satisfies it.
type RequestSource interface {
	Get(ctx context.Context, id string) (*showing.ShowingRequest, error)
}

type Message struct {
	ID               string    `json:"id"`
	ShowingRequestID string    `json:"showing_request_id"`
	Sender           string    `json:"sender"`
	Body             string    `json:"body"`
	CreatedAt        time.Time `json:"created_at"`
}

type Log struct {
	db       *store.DB
	requests RequestSource
	notifier alerts.Notifier
	hubs     *Hubs
	now      func() time.Time
}

func NewLog(db *store.DB, requests RequestSource, n alerts.Notifier, hubs *Hubs) *Log {
	return &Log{db: db, requests: requests, notifier: n, hubs: hubs, now: time.Now}
}

func (l *Log) SetClock(now func() time.Time) { l.now = now }

// Authorize returns the request if accountID may read and write its chat.
func (l *Log) Authorize(ctx context.Context, requestID, accountID string) (*showing.ShowingRequest, error) {
	sr, err := l.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if sr.WinningAgent == nil {
		if sr.Requester == accountID {
			return nil, ErrChatClosed
		}
		return nil, ErrNotParticipant
	}
	if !sr.Participant(accountID) {
		return nil, ErrNotParticipant
	}
	return sr, nil
}

// PostMessage stores a message from sender, pushes it to subscribers and
// notifies the other party.
func (l *Log) PostMessage(ctx context.Context, requestID, sender, text string) (*Message, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > maxMessageLen {
		return nil, ErrTooLong
	}
	sr, err := l.Authorize(ctx, requestID, sender)
	if err != nil {
		return nil, err
	}

	m := &Message{
		ID:               uuid.Must(uuid.NewV7()).String(),
		ShowingRequestID: requestID,
		Sender:           sender,
		Body:             body,
		CreatedAt:        l.now().UTC(),
	}
	_, err = l.db.Exec(ctx,
		`INSERT INTO messages (id, showing_request_id, sender, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ShowingRequestID, m.Sender, m.Body, m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	slog.DebugContext(ctx, "chat message posted", "showing_request_id", requestID, "sender", sender)
	if l.hubs != nil {
		l.hubs.publish(requestID, "message_new", m)
	}

	recipient := sr.Requester
	if sender == sr.Requester {
		recipient = *sr.WinningAgent
	}
	alerts.Send(ctx, l.notifier, recipient, "New message about your showing of property "+sr.PropertyID,
		"/showings/"+requestID+"/messages")
	return m, nil
}

// ListMessages returns the conversation oldest first. A non-zero since
// limits it to messages created after that instant.
func (l *Log) ListMessages(ctx context.Context, requestID, reader string, since time.Time) ([]Message, error) {
	if _, err := l.Authorize(ctx, requestID, reader); err != nil {
		return nil, err
	}

	query := `SELECT id, showing_request_id, sender, body, created_at FROM messages WHERE showing_request_id = ?`
	args := []any{requestID}
	if !since.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ShowingRequestID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
