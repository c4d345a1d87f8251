// Package notify delivers run-completion notifications. Delivery is
// fire-and-forget: a sink failure is logged and never fails the run.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"leadline/internal/config"
	"leadline/internal/domain"
)

// Notifier receives exactly one call per finished run.
type Notifier interface {
	RunFinished(ctx context.Context, run domain.Run)
}

// LogNotifier writes the completion record to the process log.
type LogNotifier struct{}

func (LogNotifier) RunFinished(ctx context.Context, run domain.Run) {
	log.Printf("run %s finished status=%s summary=%q", run.ID, run.Status, run.Summary)
}

// WebhookNotifier POSTs the completion record to every enabled webhook.
// Deliveries with a configured secret carry a short-lived JWT bearer
// token so receivers can authenticate the sender.
type WebhookNotifier struct {
	Hooks  []config.WebhookConfig
	Client *http.Client
	Now    func() time.Time
}

func NewWebhookNotifier(hooks []config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{Hooks: hooks, Client: &http.Client{Timeout: 10 * time.Second}, Now: time.Now}
}

type completionRecord struct {
	Type    string     `json:"type"`
	Run     domain.Run `json:"run"`
	RunID   string     `json:"run_id"`
	Summary string     `json:"summary"`
}

func (n *WebhookNotifier) RunFinished(ctx context.Context, run domain.Run) {
	body, err := json.Marshal(completionRecord{Type: "assistant.run.finished", Run: run, RunID: run.ID, Summary: run.Summary})
	if err != nil {
		log.Printf("notify: marshal run %s: %v", run.ID, err)
		return
	}
	for _, hook := range n.Hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		n.deliver(ctx, hook, run.ID, body)
	}
}

func (n *WebhookNotifier) deliver(ctx context.Context, hook config.WebhookConfig, runID string, body []byte) {
	timeout := 10 * time.Second
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		log.Printf("notify: webhook %s: %v", hook.URL, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if hook.Secret != "" {
		token, err := n.signToken(hook.Secret, runID)
		if err != nil {
			log.Printf("notify: sign for %s: %v", hook.URL, err)
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := n.Client.Do(req)
	if err != nil {
		log.Printf("notify: webhook %s: %v", hook.URL, err)
		return
	}
	res.Body.Close()
	if res.StatusCode >= 300 {
		log.Printf("notify: webhook %s status %d", hook.URL, res.StatusCode)
	}
}

func (n *WebhookNotifier) signToken(secret, runID string) (string, error) {
	now := n.Now().UTC()
	claims := jwt.MapClaims{
		"iss": "leadline",
		"sub": runID,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Multi fans one notification out to several sinks.
type Multi []Notifier

func (m Multi) RunFinished(ctx context.Context, run domain.Run) {
	for _, n := range m {
		n.RunFinished(ctx, run)
	}
}

// FromConfig builds the default notifier stack: the process log plus any
// configured completion webhooks.
func FromConfig(cfg *config.Config) Notifier {
	sinks := Multi{LogNotifier{}}
	if len(cfg.Notifications.Webhooks) > 0 {
		sinks = append(sinks, NewWebhookNotifier(cfg.Notifications.Webhooks))
	}
	return sinks
}
