package leadlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Leadline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// Run represents the API run model.
type Run struct {
	ID         string    `json:"id"`
	Prompt     string    `json:"prompt"`
	Status     string    `json:"status"`
	ActorID    string    `json:"actor_id"`
	Summary    string    `json:"summary,omitempty"`
	Config     RunConfig `json:"config"`
	CreatedAt  string    `json:"created_at"`
	FinishedAt *string   `json:"finished_at,omitempty"`
}

// RunConfig is the snapshot of options a run was started with.
type RunConfig struct {
	MaxLeads    int    `json:"max_leads"`
	Source      string `json:"source,omitempty"`
	AutoConfirm bool   `json:"auto_confirm"`
}

// Action represents one step of a run.
type Action struct {
	ID              string         `json:"id"`
	RunID           string         `json:"run_id"`
	Position        int            `json:"position"`
	ActionType      string         `json:"action_type"`
	EntityType      *string        `json:"entity_type,omitempty"`
	Payload         map[string]any `json:"payload"`
	RequiresConfirm bool           `json:"requires_confirm"`
	Status          string         `json:"status"`
	Result          map[string]any `json:"result,omitempty"`
	CreatedAt       string         `json:"created_at"`
	ExecutedAt      *string        `json:"executed_at,omitempty"`
}

// Lead represents the API lead model.
type Lead struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Company   string `json:"company,omitempty"`
	City      string `json:"city,omitempty"`
	Source    string `json:"source,omitempty"`
	Score     int    `json:"score"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// RunResult pairs a run with its actions.
type RunResult struct {
	Run     Run      `json:"run"`
	Actions []Action `json:"actions"`
}

// ConfirmResult reports the outcome of a confirm or reject call.
type ConfirmResult struct {
	Approved bool              `json:"approved"`
	Results  map[string]string `json:"results,omitempty"`
	Rejected bool              `json:"rejected,omitempty"`
	Count    int               `json:"count,omitempty"`
}

// PaginatedRuns wraps run listings with a cursor.
type PaginatedRuns struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// PaginatedLeads wraps lead listings with a cursor.
type PaginatedLeads struct {
	Items      []Lead `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartRun submits a prompt and returns the finished run with its actions.
func (c *Client) StartRun(ctx context.Context, prompt string, maxLeads int, source string, autoConfirm *bool) (RunResult, error) {
	body := map[string]any{"prompt": prompt}
	if maxLeads > 0 {
		body["max_leads"] = maxLeads
	}
	if source != "" {
		body["source"] = source
	}
	if autoConfirm != nil {
		body["auto_confirm"] = *autoConfirm
	}
	var resp RunResult
	err := c.do(ctx, http.MethodPost, "assistant/runs", body, &resp)
	return resp, err
}

// GetRun fetches a run and its actions.
func (c *Client) GetRun(ctx context.Context, id string) (RunResult, error) {
	var resp RunResult
	endpoint := fmt.Sprintf("assistant/runs/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListRuns returns a page of runs, newest first.
func (c *Client) ListRuns(ctx context.Context, status string, limit int, cursor string) (PaginatedRuns, error) {
	endpoint := "assistant/runs" + listQuery(map[string]string{
		"status": status,
		"limit":  positiveInt(limit),
		"cursor": cursor,
	})
	var resp PaginatedRuns
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListRunActions returns the ordered actions of a run.
func (c *Client) ListRunActions(ctx context.Context, runID string) ([]Action, error) {
	var resp struct {
		Items []Action `json:"items"`
	}
	endpoint := fmt.Sprintf("assistant/runs/%s/actions", url.PathEscape(runID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Confirm approves pending actions and executes them.
func (c *Client) Confirm(ctx context.Context, actionIDs []string) (ConfirmResult, error) {
	return c.resolve(ctx, actionIDs, true)
}

// Reject marks pending actions rejected without executing them.
func (c *Client) Reject(ctx context.Context, actionIDs []string) (ConfirmResult, error) {
	return c.resolve(ctx, actionIDs, false)
}

func (c *Client) resolve(ctx context.Context, actionIDs []string, approve bool) (ConfirmResult, error) {
	body := map[string]any{
		"action_ids": actionIDs,
		"approve":    approve,
	}
	var resp ConfirmResult
	err := c.do(ctx, http.MethodPost, "assistant/actions/confirm", body, &resp)
	return resp, err
}

// ListLeads returns a page of leads.
func (c *Client) ListLeads(ctx context.Context, status, source string, limit int, cursor string) (PaginatedLeads, error) {
	endpoint := "leads" + listQuery(map[string]string{
		"status": status,
		"source": source,
		"limit":  positiveInt(limit),
		"cursor": cursor,
	})
	var resp PaginatedLeads
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetLead fetches a lead by id.
func (c *Client) GetLead(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	endpoint := fmt.Sprintf("leads/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func listQuery(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func positiveInt(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", n)
}
