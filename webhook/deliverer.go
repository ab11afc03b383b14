package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/backoff"
	"github.com/bcorn-cely/Agent-Orchestration/notify"
)

// EventHeader carries the delivery's event type so receivers can route
// before parsing the body.
const EventHeader = "X-Orchestration-Event"

// HTTPDeliverer POSTs deliveries as JSON to a fixed endpoint. Bodies
// are signed with HMAC-SHA256 under a shared secret, and failed
// deliveries are retried with backoff. Consumers verify with
// [notify.VerifySignature].
type HTTPDeliverer struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	strategy    backoff.Strategy
	maxAttempts int
	logger      *slog.Logger
}

// DelivererOption configures an HTTPDeliverer.
type DelivererOption func(*HTTPDeliverer)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) DelivererOption {
	return func(d *HTTPDeliverer) { d.client = client }
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(s backoff.Strategy) DelivererOption {
	return func(d *HTTPDeliverer) { d.strategy = s }
}

// WithMaxAttempts sets the total delivery attempts per event.
func WithMaxAttempts(n int) DelivererOption {
	return func(d *HTTPDeliverer) { d.maxAttempts = n }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) DelivererOption {
	return func(d *HTTPDeliverer) { d.logger = logger }
}

// NewHTTPDeliverer creates a deliverer POSTing to endpoint. An empty
// secret disables signing.
func NewHTTPDeliverer(endpoint, secret string, opts ...DelivererOption) *HTTPDeliverer {
	d := &HTTPDeliverer{
		endpoint:    endpoint,
		secret:      []byte(secret),
		client:      &http.Client{Timeout: 10 * time.Second},
		strategy:    backoff.DefaultStrategy(),
		maxAttempts: 3,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver implements Deliverer.
func (d *HTTPDeliverer) Deliver(ctx context.Context, delivery *Delivery) error {
	body, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("webhook: marshal delivery: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		lastErr = d.post(ctx, delivery.Type, body)
		if lastErr == nil {
			return nil
		}

		if attempt == d.maxAttempts {
			break
		}
		d.logger.Warn("webhook delivery failed, retrying",
			slog.String("event", delivery.Type),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-time.After(d.strategy.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("webhook: deliver %s after %d attempts: %w", delivery.Type, d.maxAttempts, lastErr)
}

func (d *HTTPDeliverer) post(ctx context.Context, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventType)
	if len(d.secret) > 0 {
		req.Header.Set(notify.SignatureHeader, "sha256="+notify.Sign(body, d.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

var (
	_ Deliverer = DelivererFunc(nil)
	_ Deliverer = (*HTTPDeliverer)(nil)
)
