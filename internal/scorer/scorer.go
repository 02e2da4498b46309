// Package scorer is the contract for the external disclosure-document
// scorer and its HTTP adapter.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnavailable   = errors.New("document scorer unavailable")
	ErrEmptyDocument = errors.New("document has no text to score")
)

type Finding struct {
	Category      string `json:"category"`
	RiskLevel     string `json:"risk_level"`
	EstimatedCost int64  `json:"estimated_cost"`
	SourcePage    int    `json:"source_page"`
}

type Result struct {
	Summary   string    `json:"summary"`
	Findings  []Finding `json:"findings"`
	RiskScore int       `json:"risk_score"`
}

type Scorer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

// HTTPClient posts document text as JSON to a scoring endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	DocumentText string `json:"document_text"`
}

func (c *HTTPClient) Analyze(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyDocument
	}

	body, err := json.Marshal(analyzeRequest{DocumentText: text})
	if err != nil {
		return Result{}, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decoding response: %w", err)
	}
	if res.RiskScore < 0 || res.RiskScore > 100 {
		return Result{}, fmt.Errorf("risk score %d out of range", res.RiskScore)
	}
	return res, nil
}

// Disabled is used when no scorer endpoint is configured.
type Disabled struct{}

func (Disabled) Analyze(context.Context, string) (Result, error) {
	return Result{}, ErrUnavailable
}
