// Package notify delivers best-effort run-end notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Iron-Ham/tutti/internal/logging"
)

// RunStats aggregates one run's outcome for delivery to a sink.
type RunStats struct {
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	BranchesMerged  int     `json:"branches_merged"`
	BranchesFailed  int     `json:"branches_failed"`
	TotalTokens     int64   `json:"total_tokens"`
	DurationSeconds float64 `json:"duration_seconds"`
	DryRun          bool    `json:"dry_run,omitempty"`
}

// Sink receives the run-end notification. Sinks are best-effort: the
// scheduler logs a returned error and moves on, it never fails the run.
type Sink interface {
	RunFinished(ctx context.Context, stats RunStats) error
}

// webhookEvent is the JSON body a WebhookSink posts.
type webhookEvent struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	RunStats
}

// WebhookSink posts run summaries to a configured URL.
type WebhookSink struct {
	url    string
	client *http.Client
	log    *logging.Logger
	now    func() time.Time
}

// NewWebhookSink creates a sink posting to url. timeout bounds each
// request; zero or negative means 10 seconds.
func NewWebhookSink(url string, timeout time.Duration, log *logging.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
		now:    time.Now,
	}
}

// RunFinished posts the stats as a JSON event. A non-2xx response is an
// error; the body is drained and closed either way.
func (s *WebhookSink) RunFinished(ctx context.Context, stats RunStats) error {
	payload := webhookEvent{
		Event:     "run_finished",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		RunStats:  stats,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected: %s", resp.Status)
	}

	s.log.Debug("run notification delivered", "url", s.url, "status", resp.StatusCode)
	return nil
}
