// Package notify forwards orchestrator events to external sinks (Slack
// incoming webhooks, generic webhooks). Sinks are best-effort: a failed
// delivery is logged and dropped, never retried into the hot path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
)

// Sink is one delivery target.
type Sink interface {
	Name() string
	Notify(ctx context.Context, ev events.Event) error
}

// SlackWebhook posts a one-line summary per event to a Slack incoming
// webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
	Client     *http.Client
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, ev events.Event) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	payload := map[string]any{"text": summarize(ev)}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	return postJSON(ctx, s.client(), s.WebhookURL, payload)
}

func (s SlackWebhook) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

// Webhook POSTs the raw event JSON to a URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

func (w Webhook) Name() string { return "webhook" }

func (w Webhook) Notify(ctx context.Context, ev events.Event) error {
	if w.URL == "" {
		return fmt.Errorf("webhook URL not set")
	}
	c := w.Client
	if c == nil {
		c = http.DefaultClient
	}
	return postJSON(ctx, c, w.URL, ev)
}

func postJSON(ctx context.Context, c *http.Client, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// summarize renders an event as a short human line.
func summarize(ev events.Event) string {
	subject := ev.AgentID
	if subject == "" {
		subject = ev.TaskID
	}
	if subject == "" {
		subject = ev.GateID
	}
	if subject == "" {
		subject = ev.Workflow
	}
	if subject == "" {
		return ev.Type
	}
	return fmt.Sprintf("%s %s", ev.Type, subject)
}

type binding struct {
	sink   Sink
	accept map[string]bool // nil accepts everything
}

// Forwarder subscribes to the hub and fans events out to its sinks.
type Forwarder struct {
	hub      *events.Hub
	bindings []binding
	timeout  time.Duration
}

func NewForwarder(hub *events.Hub) *Forwarder {
	return &Forwarder{hub: hub, timeout: 10 * time.Second}
}

// Add registers a sink. eventTypes filters delivery; empty means all.
func (f *Forwarder) Add(s Sink, eventTypes []string) {
	b := binding{sink: s}
	if len(eventTypes) > 0 {
		b.accept = make(map[string]bool, len(eventTypes))
		for _, t := range eventTypes {
			b.accept[t] = true
		}
	}
	f.bindings = append(f.bindings, b)
}

// Sinks returns the number of registered sinks.
func (f *Forwarder) Sinks() int { return len(f.bindings) }

// Run consumes hub events until ctx is cancelled. Call Add before Run;
// bindings are not synchronized.
func (f *Forwarder) Run(ctx context.Context) {
	if len(f.bindings) == 0 {
		return
	}
	sub := f.hub.Subscribe()
	defer f.hub.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			f.deliver(ctx, ev)
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, ev events.Event) {
	for _, b := range f.bindings {
		if b.accept != nil && !b.accept[ev.Type] {
			continue
		}
		nctx, cancel := context.WithTimeout(ctx, f.timeout)
		if err := b.sink.Notify(nctx, ev); err != nil {
			slog.Warn("notify failed", "sink", b.sink.Name(), "event", ev.Type, "err", err)
		}
		cancel()
	}
}
