// Package alert dispatches operator-facing alerts across configurable
// channels (structured logs, the pub/sub bus, webhooks, critical-only
// email, metrics), with duplicate suppression and rate limiting so a
// noisy failure mode doesn't page anyone on every single occurrence.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowforge/workflow-go/emit"
	"github.com/flowforge/workflow-go/model"
)

// bypassRateLimitKey is a metadata flag a caller sets to force a duplicate
// alert through dedupe suppression (it is still excluded from the dedupe
// key itself, and from the rate limiter).
const bypassRateLimitKey = "bypass_rate_limit"

// Severity levels an alert can carry. Dedupe suppression and rate
// limiting treat every severity alike; severity is part of the dedupe
// key, picks LogChannel's log level, and gates EmailChannel.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Alert is one notification as handed to a Channel.
type Alert struct {
	Severity  string
	Type      string
	Title     string
	Message   string
	Metadata  model.State
	Timestamp time.Time
}

// Channel delivers an Alert somewhere. Send should not block longer than
// ctx allows; the dispatcher calls every channel even if one fails.
type Channel interface {
	Send(ctx context.Context, a Alert) error
}

// defaultRingCapacity bounds how many recent alerts the dispatcher keeps
// in memory for inspection (e.g. an admin "recent alerts" endpoint).
const defaultRingCapacity = 1000

// defaultDedupeWindow is how long an identical (type, severity, metadata)
// alert is suppressed after it first fires.
const defaultDedupeWindow = 5 * time.Minute

// Dispatcher fans an alert out to every registered channel, after
// suppressing duplicates and enforcing a rate limit.
type Dispatcher struct {
	channels     []Channel
	logger       *slog.Logger
	limiter      *rate.Limiter
	dedupeWindow time.Duration
	ringCap      int
	now          func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
	ring     []emit.AlertMessage
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithDedupeWindow overrides the default 5-minute suppression window.
func WithDedupeWindow(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.dedupeWindow = d }
}

// WithRateLimit overrides the default rate limit (10 alerts/sec, burst 20).
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(disp *Dispatcher) { disp.limiter = rate.NewLimiter(r, burst) }
}

// WithRingCapacity overrides the default 1000-entry recent-alerts buffer.
func WithRingCapacity(n int) Option {
	return func(disp *Dispatcher) { disp.ringCap = n }
}

// New returns a Dispatcher fanning out to channels.
func New(logger *slog.Logger, channels []Channel, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	disp := &Dispatcher{
		channels:     channels,
		logger:       logger,
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
		dedupeWindow: defaultDedupeWindow,
		ringCap:      defaultRingCapacity,
		now:          func() time.Time { return time.Now().UTC() },
		lastSent:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(disp)
	}
	return disp
}

// SendAlert builds and dispatches an Alert. It satisfies the dlq
// package's AlertSender interface directly.
func (d *Dispatcher) SendAlert(ctx context.Context, severity, typ, title, message string, metadata model.State) error {
	now := d.now()
	a := Alert{Severity: severity, Type: typ, Title: title, Message: message, Metadata: metadata, Timestamp: now}

	bypass, _ := metadata[bypassRateLimitKey].(bool)

	key := dedupeKey(typ, severity, metadata)
	d.mu.Lock()
	if last, ok := d.lastSent[key]; ok && !bypass && now.Sub(last) < d.dedupeWindow {
		d.mu.Unlock()
		d.logger.Debug("alert suppressed as duplicate", "key", key)
		return nil
	}
	d.lastSent[key] = now
	d.mu.Unlock()

	if !bypass && !d.limiter.Allow() {
		d.logger.Warn("alert dropped by rate limiter", "severity", severity, "type", typ, "title", title)
		return nil
	}

	d.mu.Lock()
	d.pushRing(a)
	d.mu.Unlock()

	var errs []error
	for _, ch := range d.channels {
		if err := ch.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("alert: %d of %d channels failed: %v", len(errs), len(d.channels), errs)
	}
	return nil
}

// dedupeKey derives the duplicate-suppression key from (type, severity,
// metadata), with the timestamp and bypass flag excluded from metadata
// since neither changes what the alert is *about*. Metadata keys are
// sorted so the key is stable regardless of map iteration order.
func dedupeKey(typ, severity string, metadata model.State) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if k == bypassRateLimitKey || k == "timestamp" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(severity)
	b.WriteByte('|')
	b.WriteString(typ)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, metadata[k])
	}
	return b.String()
}

func (d *Dispatcher) pushRing(a Alert) {
	msg := emit.AlertMessage{
		ID:        fmt.Sprintf("%d", len(d.ring)+1),
		Timestamp: a.Timestamp,
		Severity:  a.Severity,
		Type:      a.Type,
		Title:     a.Title,
		Message:   a.Message,
		Metadata:  a.Metadata,
	}
	d.ring = append(d.ring, msg)
	if len(d.ring) > d.ringCap {
		d.ring = d.ring[len(d.ring)-d.ringCap:]
	}
}

// Recent returns a copy of the most recently dispatched alerts, oldest
// first, capped at this dispatcher's ring capacity.
func (d *Dispatcher) Recent() []emit.AlertMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]emit.AlertMessage, len(d.ring))
	copy(out, d.ring)
	return out
}
