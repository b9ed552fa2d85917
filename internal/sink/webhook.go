package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	logx "retrotrack/pkg/logx"
)

// Webhook POSTs payloads as JSON to per-destination URLs, with a small
// exponential backoff on failure. Retries here are delivery-level only; the
// dispatcher has already committed its throttle/suppression state and will
// not re-dispatch.
type Webhook struct {
	urls       map[string]string
	client     *http.Client
	maxRetries int
	log        logx.Logger
}

func NewWebhook(urls map[string]string, maxRetries int, log logx.Logger) *Webhook {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	u := make(map[string]string, len(urls))
	for k, v := range urls {
		u[k] = v
	}
	return &Webhook{
		urls:       u,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: maxRetries,
		log:        log,
	}
}

func (w *Webhook) Handles(destination string) bool {
	_, ok := w.urls[destination]
	return ok
}

func (w *Webhook) Send(ctx context.Context, destination string, p Payload) error {
	url, ok := w.urls[destination]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDestination, destination)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}

		lastErr = w.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
		w.log.Debug("webhook delivery failed",
			logx.String("destination", destination), logx.Int("attempt", attempt+1), logx.Err(lastErr))
	}
	return fmt.Errorf("webhook %s: %w", destination, lastErr)
}

func (w *Webhook) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
