package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowforge/workflow-go/emit"
)

// LogChannel writes every alert through a structured logger, at a level
// chosen by severity.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel returns a Channel that logs through logger.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Send(_ context.Context, a Alert) error {
	level := slog.LevelWarn
	switch a.Severity {
	case SeverityCritical:
		level = slog.LevelError
	case SeverityLow:
		level = slog.LevelInfo
	}
	c.logger.Log(context.Background(), level, a.Title,
		"severity", a.Severity, "type", a.Type, "message", a.Message, "metadata", a.Metadata)
	return nil
}

// PubSubChannel broadcasts every alert onto the event bus so dashboards
// and other in-process subscribers see it in real time.
type PubSubChannel struct {
	broadcaster *emit.Broadcaster
}

// NewPubSubChannel returns a Channel publishing through broadcaster.
func NewPubSubChannel(broadcaster *emit.Broadcaster) *PubSubChannel {
	return &PubSubChannel{broadcaster: broadcaster}
}

func (c *PubSubChannel) Send(_ context.Context, a Alert) error {
	c.broadcaster.PublishAlert(emit.AlertMessage{
		Timestamp: a.Timestamp,
		Severity:  a.Severity,
		Type:      a.Type,
		Title:     a.Title,
		Message:   a.Message,
		Metadata:  a.Metadata,
	})
	return nil
}

// WebhookChannel POSTs a JSON-encoded alert to a fixed URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel returns a Channel posting to url. client defaults to
// one with a 10-second timeout if nil.
func NewWebhookChannel(url string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{url: url, client: client}
}

func (c *WebhookChannel) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("webhook channel: marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook channel: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook channel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Mailer sends one email. Implemented over SMTP, a transactional email
// API, or anything else in production; tests supply a stub.
type Mailer interface {
	SendMail(ctx context.Context, subject, body string) error
}

// EmailChannel forwards only critical alerts to a Mailer, per the
// email-critical-only channel policy.
type EmailChannel struct {
	mailer Mailer
}

// NewEmailChannel returns a Channel that mails only critical alerts.
func NewEmailChannel(mailer Mailer) *EmailChannel {
	return &EmailChannel{mailer: mailer}
}

func (c *EmailChannel) Send(ctx context.Context, a Alert) error {
	if a.Severity != SeverityCritical {
		return nil
	}
	subject := fmt.Sprintf("[CRITICAL] %s", a.Title)
	return c.mailer.SendMail(ctx, subject, a.Message)
}

// MetricsRecorder is the metrics package's inbound surface for counting
// dispatched alerts, kept as a narrow interface here so this package
// never imports metrics directly.
type MetricsRecorder interface {
	RecordAlert(severity, typ string)
}

// MetricsChannel increments a counter per dispatched alert.
type MetricsChannel struct {
	recorder MetricsRecorder
}

// NewMetricsChannel returns a Channel recording through recorder.
func NewMetricsChannel(recorder MetricsRecorder) *MetricsChannel {
	return &MetricsChannel{recorder: recorder}
}

func (c *MetricsChannel) Send(_ context.Context, a Alert) error {
	c.recorder.RecordAlert(a.Severity, a.Type)
	return nil
}
