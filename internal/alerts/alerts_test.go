package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/homebid/internal/testutil"
)

func TestInboxNotifyListMarkRead(t *testing.T) {
	d := testutil.OpenDB(t)
	clock := testutil.NewClock()
	inbox := NewInbox(d)
	inbox.SetClock(clock.Now)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, d, "buyer", 0)

	if err := inbox.Notify(ctx, acct, "first", "/a"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	clock.Advance(1)
	if err := inbox.Notify(ctx, acct, "second", "/b"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	items, err := inbox.List(ctx, acct, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].Message != "second" {
		t.Errorf("newest = %q, want second", items[0].Message)
	}

	if err := inbox.MarkRead(ctx, acct, items[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := inbox.MarkRead(ctx, acct, items[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second mark read = %v, want ErrNotFound", err)
	}
	other := testutil.SeedAccount(t, d, "buyer", 0)
	if err := inbox.MarkRead(ctx, other, items[1].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("mark read by other account = %v, want ErrNotFound", err)
	}

	items, _ = inbox.List(ctx, acct, 10)
	if items[0].ReadAt == nil || items[1].ReadAt != nil {
		t.Errorf("read flags = %v, %v", items[0].ReadAt, items[1].ReadAt)
	}
}

func TestInboxProcessTask(t *testing.T) {
	d := testutil.OpenDB(t)
	inbox := NewInbox(d)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, d, "agent", 0)

	task, err := newNotifyTask(NotificationPayload{AccountID: acct, Message: "You won the showing", URL: "/showings/1"})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if task.Type() != TaskNotifyAccount {
		t.Errorf("type = %q", task.Type())
	}
	if err := inbox.ProcessTask(ctx, task); err != nil {
		t.Fatalf("process: %v", err)
	}

	items, _ := inbox.List(ctx, acct, 10)
	if len(items) != 1 || items[0].URL != "/showings/1" {
		t.Errorf("items = %+v", items)
	}

	bad := asynq.NewTask(TaskNotifyAccount, []byte("{"))
	if err := inbox.ProcessTask(ctx, bad); !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("bad payload err = %v, want SkipRetry", err)
	}
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return f.err
}

func TestInboxMirrorsToMailer(t *testing.T) {
	d := testutil.OpenDB(t)
	inbox := NewInbox(d)
	m := &fakeMailer{err: errors.New("smtp down")}
	inbox.SetMailer(m)
	acct := testutil.SeedAccount(t, d, "buyer", 0)

	// a failing mailer must not fail delivery
	if err := inbox.Notify(context.Background(), acct, "hi", "/x"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(m.sent) != 1 || m.sent[0] != acct+"@example.com" {
		t.Errorf("sent = %v", m.sent)
	}
}

func TestPlunkMailer(t *testing.T) {
	var got plunkSendBody
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := &PlunkMailer{APIKey: "k", From: "noreply@homebid.test", APIURL: srv.URL}
	if err := m.Send(context.Background(), "a@b.c", "Subject", "Body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer k" {
		t.Errorf("auth = %q", auth)
	}
	if got.To != "a@b.c" || got.From != "noreply@homebid.test" {
		t.Errorf("body = %+v", got)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer failing.Close()
	m.APIURL = failing.URL
	if err := m.Send(context.Background(), "a@b.c", "s", "b"); err == nil {
		t.Error("expected error on 401")
	}
}

func TestPlunkFromEnv(t *testing.T) {
	t.Setenv("PLUNK_API_KEY", "")
	if PlunkFromEnv() != nil {
		t.Error("expected nil mailer without key")
	}
	t.Setenv("PLUNK_API_KEY", "key")
	m := PlunkFromEnv()
	if m == nil || m.APIURL == "" {
		t.Fatalf("mailer = %+v", m)
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, string, string, string) error {
	f.calls++
	return errors.New("queue down")
}

func TestSendSwallowsErrors(t *testing.T) {
	f := &failingNotifier{}
	Send(context.Background(), f, "acct", "m", "/u")
	Send(context.Background(), nil, "acct", "m", "/u")
	Send(context.Background(), f, "", "m", "/u")
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}
