package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

const (
	defaultQueueSize      = 64
	defaultWebhookTimeout = 5 * time.Second
	drainTimeout          = 10 * time.Second
)

// ErrQueueFull is returned when the delivery queue is at capacity.
var ErrQueueFull = errors.New("alert: webhook queue full, event dropped")

type webhookPayload struct {
	Severity  string         `json:"severity"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Instance  string         `json:"ronin_instance"`
	Fields    map[string]any `json:"fields"`
}

// WebhookSink POSTs events as JSON to an HTTP endpoint. Events are queued and
// delivered by a single background goroutine so a slow endpoint never blocks
// the pipeline.
type WebhookSink struct {
	url       string
	token     string // optional bearer token
	minSev    Severity
	client    *http.Client
	queue     chan Event
	done      chan struct{}
	closeWG   sync.WaitGroup
	closeOnce sync.Once
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithBearerToken sets the Authorization: Bearer header value.
func WithBearerToken(tok string) WebhookOption {
	return func(w *WebhookSink) { w.token = tok }
}

// WithMinSeverity sets the minimum severity for events to be delivered.
func WithMinSeverity(sev Severity) WebhookOption {
	return func(w *WebhookSink) { w.minSev = sev }
}

// WithQueueSize sets the buffered queue capacity for pending events.
func WithQueueSize(n int) WebhookOption {
	return func(w *WebhookSink) {
		if n > 0 {
			w.queue = make(chan Event, n)
		}
	}
}

// NewWebhookSink creates a sink delivering to url. The background goroutine
// starts immediately and runs until Close.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	w := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		queue:  make(chan Event, defaultQueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.closeWG.Add(1)
	go w.run()

	return w
}

// Emit enqueues an event for async delivery. Events below the minimum
// severity are silently dropped; a full queue drops the event with
// ErrQueueFull rather than blocking.
func (w *WebhookSink) Emit(_ context.Context, event Event) error {
	if event.Severity < w.minSev {
		return nil
	}

	select {
	case <-w.done:
		return errors.New("alert: webhook sink closed")
	default:
	}

	select {
	case w.queue <- event:
		return nil
	case <-w.done:
		return errors.New("alert: webhook sink closed")
	default:
		return ErrQueueFull
	}
}

// Close drains pending events and stops the delivery goroutine. Safe to call
// multiple times.
func (w *WebhookSink) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.closeWG.Wait()
	return nil
}

func (w *WebhookSink) run() {
	defer w.closeWG.Done()

	for {
		select {
		case event := <-w.queue:
			w.send(event)
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *WebhookSink) drain() {
	deadline := time.After(drainTimeout)
	for {
		select {
		case event := <-w.queue:
			w.send(event)
		case <-deadline:
			return
		default:
			return
		}
	}
}

func (w *WebhookSink) send(event Event) {
	payload := webhookPayload{
		Severity:  event.Severity.String(),
		Type:      event.Type,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Instance:  event.Instance,
		Fields:    event.Fields,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "alert: webhook marshal error: %v\n", err)
		return
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "alert: webhook request error: %v\n", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "alert: webhook send error: %v\n", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "alert: webhook returned HTTP %d for event %s\n", resp.StatusCode, event.Type)
	}
}
