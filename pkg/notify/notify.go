// Package notify posts run failures to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/checkinhub/pkg/eventbus"
	"github.com/dukex/checkinhub/pkg/events"
	"github.com/dukex/checkinhub/pkg/models"
)

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 10 * time.Second

// Payload is the JSON body posted for a failed run.
type Payload struct {
	SiteID     string           `json:"siteId"`
	SiteName   string           `json:"siteName"`
	RunID      string           `json:"runId"`
	Status     models.RunStatus `json:"status"`
	AuthFailed bool             `json:"authFailed"`
	Summary    string           `json:"summary"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt *time.Time       `json:"finishedAt"`
}

// NewPayload builds the webhook body from a run event.
func NewPayload(siteID string, details events.RunDetails) Payload {
	return Payload{
		SiteID:     siteID,
		SiteName:   details.SiteName,
		RunID:      details.RunID,
		Status:     details.Status,
		AuthFailed: details.AuthFailed,
		Summary:    details.Summary,
		StartedAt:  details.StartedAt,
		FinishedAt: details.FinishedAt,
	}
}

// TestResult reports the outcome of a webhook connectivity check.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message"`
}

type Notifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

type Option func(*Notifier)

func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		n.client = client
	}
}

// NewNotifier creates a notifier. An empty url disables delivery.
func NewNotifier(url string, logger *slog.Logger, opts ...Option) *Notifier {
	notifier := &Notifier{
		url:    url,
		client: &http.Client{Timeout: DefaultTimeout},
		logger: logger.With("module", "notify"),
	}

	for _, opt := range opts {
		opt(notifier)
	}

	return notifier
}

func (n *Notifier) Configured() bool {
	return n.url != ""
}

// Register subscribes the notifier to run.failed events.
func (n *Notifier) Register(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.RunFailedEvent, n.HandleRunFailed)
}

// HandleRunFailed delivers a run.failed event. Delivery errors are logged
// and never returned, so the message is not redelivered.
func (n *Notifier) HandleRunFailed(ctx context.Context, event any) error {
	failed, ok := event.(*events.RunFailed)
	if !ok {
		n.logger.WarnContext(ctx, "Unexpected event for run.failed handler", "event", fmt.Sprintf("%T", event))

		return nil
	}

	if !n.Configured() {
		return nil
	}

	err := n.Notify(ctx, NewPayload(failed.SiteID, failed.RunDetails))
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to deliver webhook notification",
			"site_id", failed.SiteID,
			"run_id", failed.RunID,
			"error", err,
		)

		return nil
	}

	n.logger.InfoContext(ctx, "Webhook notification delivered", "site_id", failed.SiteID, "run_id", failed.RunID)

	return nil
}

// Notify posts payload to the webhook.
func (n *Notifier) Notify(ctx context.Context, payload Payload) error {
	statusCode, err := n.post(ctx, payload)
	if err != nil {
		return err
	}

	if statusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook responded with HTTP %d", statusCode)
	}

	return nil
}

// Test posts a test message and reports the result.
func (n *Notifier) Test(ctx context.Context) TestResult {
	if !n.Configured() {
		return TestResult{Success: false, Message: "webhook URL is not configured"}
	}

	statusCode, err := n.post(ctx, map[string]string{
		"type":    "test",
		"message": "CheckinHub webhook test message",
	})
	if err != nil {
		return TestResult{Success: false, Message: "connection failed: " + err.Error()}
	}

	if statusCode >= http.StatusBadRequest {
		return TestResult{Success: false, StatusCode: statusCode, Message: fmt.Sprintf("HTTP %d", statusCode)}
	}

	return TestResult{Success: true, StatusCode: statusCode, Message: "webhook test succeeded"}
}

func (n *Notifier) post(ctx context.Context, body any) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(encoded))
	if err != nil {
		return 0, fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return resp.StatusCode, nil
}
