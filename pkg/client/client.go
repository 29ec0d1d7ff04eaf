// Package client is a small HTTP client for the suggestd API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/suggestd/pkg/models"
)

const (
	// DefaultBaseURL is where a local suggestd listens.
	DefaultBaseURL = "http://127.0.0.1:38480"

	// DefaultTimeout bounds each API call.
	DefaultTimeout = 10 * time.Second

	// HealthCheckTimeout bounds a single health probe.
	HealthCheckTimeout = 1 * time.Second
)

// ErrNotReady is returned by WaitReady when the deadline passes first.
var ErrNotReady = errors.New("suggestd not ready")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("suggestd: %d %s", e.StatusCode, e.Message)
}

// NewCandidate is one generated suggestion to ingest.
type NewCandidate struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ScopeKey    string `json:"scopeKey,omitempty"`
	SourceID    string `json:"sourceId,omitempty"`
}

// PlanEntry mirrors one per-candidate diagnostic row of the plan endpoint.
type PlanEntry struct {
	CandidateID string          `json:"candidate_id"`
	Title       string          `json:"title"`
	Disposition string          `json:"disposition"`
	Reason      string          `json:"reason,omitempty"`
	Relation    models.Relation `json:"relation"`
	MatchID     string          `json:"match_id,omitempty"`
	ConceptHash string          `json:"concept_hash"`
	Score       float64         `json:"score"`
}

// Plan is the dry-run response of the plan endpoint.
type Plan struct {
	Items            []models.SuggestedItem `json:"items"`
	Plan             []PlanEntry            `json:"plan"`
	CooldownBypassed bool                   `json:"cooldown_bypassed"`
	Fallback         bool                   `json:"fallback"`
}

// Client calls one suggestd instance on behalf of one user.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

// New creates a client. An empty baseURL means DefaultBaseURL.
func New(baseURL, userID string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// Healthy reports whether the service answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil) == nil
}

// Version returns the version reported by the service.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out map[string]string
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &out); err != nil {
		return "", err
	}
	return out["version"], nil
}

// WaitReady polls /api/ready with exponential backoff until it answers 200 or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	backoff := 50 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		if err := c.do(ctx, http.MethodGet, "/api/ready", nil, nil); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Suggested fetches the suggestion list. mode is "new", "reinforcements" or empty.
func (c *Client) Suggested(ctx context.Context, surface models.Surface, mode string) ([]models.SuggestedItem, error) {
	var items []models.SuggestedItem
	if err := c.do(ctx, http.MethodGet, suggestedPath(surface, "", mode), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Plan runs the pipeline without side effects and returns the diagnostic plan.
func (c *Client) Plan(ctx context.Context, surface models.Surface, mode string) (*Plan, error) {
	var plan Plan
	if err := c.do(ctx, http.MethodGet, suggestedPath(surface, "/plan", mode), nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Ingest stores generated candidates as pending suggestions.
func (c *Client) Ingest(ctx context.Context, surface models.Surface, candidates []NewCandidate) ([]models.Candidate, error) {
	body := map[string]any{"candidates": candidates}
	var created []models.Candidate
	if err := c.do(ctx, http.MethodPost, "/api/suggested/"+string(surface), body, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// Accept turns a pending suggestion into a durable item.
func (c *Client) Accept(ctx context.Context, surface models.Surface, id string) (models.ExistingItem, error) {
	var item models.ExistingItem
	err := c.do(ctx, http.MethodPost, "/api/suggested/"+string(surface)+"/"+url.PathEscape(id)+"/accept", nil, &item)
	return item, err
}

// Dismiss discards a pending suggestion.
func (c *Client) Dismiss(ctx context.Context, surface models.Surface, id string) error {
	return c.do(ctx, http.MethodPost, "/api/suggested/"+string(surface)+"/"+url.PathEscape(id)+"/dismiss", nil, nil)
}

// SetStatus archives or restores a durable item.
func (c *Client) SetStatus(ctx context.Context, surface models.Surface, id string, status models.ItemStatus) error {
	action := "restore"
	if status == models.StatusArchived {
		action = "archive"
	}
	return c.do(ctx, http.MethodPost, "/api/items/"+string(surface)+"/"+url.PathEscape(id)+"/"+action, nil, nil)
}

func suggestedPath(surface models.Surface, suffix, mode string) string {
	p := "/api/suggested/" + string(surface) + suffix
	if mode != "" {
		p += "?mode=" + url.QueryEscape(mode)
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
