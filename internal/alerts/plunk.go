package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PlunkMailer sends transactional email through the Plunk HTTP API.
type PlunkMailer struct {
	APIKey string
	From   string
	APIURL string
	client *http.Client
}

// PlunkFromEnv reads PLUNK_API_KEY, PLUNK_FROM and PLUNK_API_URL. It
// returns nil when no API key is set.
func PlunkFromEnv() *PlunkMailer {
	key := os.Getenv("PLUNK_API_KEY")
	if key == "" {
		return nil
	}
	m := &PlunkMailer{
		APIKey: key,
		From:   os.Getenv("PLUNK_FROM"),
		APIURL: os.Getenv("PLUNK_API_URL"),
	}
	if m.APIURL == "" {
		m.APIURL = "https://api.useplunk.com/v1/send"
	}
	return m
}

type plunkSendBody struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
}

func (m *PlunkMailer) Send(ctx context.Context, to, subject, body string) error {
	b, err := json.Marshal(plunkSendBody{To: to, Subject: subject, Body: body, From: m.From})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.APIURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.APIKey)

	client := m.client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if len(msg) > 0 {
			return fmt.Errorf("plunk send failed: status=%d body=%s", resp.StatusCode, msg)
		}
		return fmt.Errorf("plunk send failed: status=%d", resp.StatusCode)
	}
	return nil
}
