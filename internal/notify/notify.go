// Package notify delivers approval gate notices to the person who resolves
// them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/JaimeStill/envoy/internal/workflow"
)

// Domain errors for notice delivery.
var (
	ErrDeliveryFailed = errors.New("notice delivery failed")
	ErrRejected       = errors.New("notice rejected by receiver")
)

// Log writes gate notices to a logger. It never fails and suits deployments
// where an operator resolves gates through the API or CLI.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("system", "notify")}
}

func (n *Log) Notify(ctx context.Context, notice workflow.GateNotice) error {
	n.logger.InfoContext(ctx, "approval requested",
		"run_id", notice.RunID,
		"token", notice.Token,
		"expires_at", notice.ExpiresAt,
		"contact", notice.Contact,
		"summary", notice.Summary,
	)
	return nil
}

// Payload is the JSON body posted by Webhook.
type Payload struct {
	RunID     string    `json:"run_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Summary   string    `json:"summary"`
	Contact   string    `json:"contact,omitempty"`
	Approve   string    `json:"approve_url,omitempty"`
	Reject    string    `json:"reject_url,omitempty"`
}

// Webhook posts gate notices as JSON to a URL.
type Webhook struct {
	url     string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewWebhook creates a Webhook notifier. When baseURL is set, the payload
// carries approve and reject links against the gate resolution endpoint.
func NewWebhook(url, baseURL string, timeout time.Duration, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:     url,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("system", "notify"),
	}
}

// Notify posts notice. Network failures and 429/5xx responses are transient;
// other non-2xx responses are permanent.
func (n *Webhook) Notify(ctx context.Context, notice workflow.GateNotice) error {
	payload := Payload{
		RunID:     notice.RunID.String(),
		Token:     notice.Token,
		ExpiresAt: notice.ExpiresAt,
		Summary:   notice.Summary,
		Contact:   notice.Contact,
	}
	if n.baseURL != "" {
		gate := fmt.Sprintf("%s/api/gates/%s", n.baseURL, notice.Token)
		payload.Approve = gate + "?decision=" + string(workflow.DecisionApprove)
		payload.Reject = gate + "?decision=" + string(workflow.DecisionReject)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w: %w", workflow.ErrTransient, ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %w: status %d", workflow.ErrTransient, ErrDeliveryFailed, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	n.logger.InfoContext(ctx, "approval notice delivered", "run_id", notice.RunID, "token", notice.Token)
	return nil
}
