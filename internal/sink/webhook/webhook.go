// Package webhook delivers messages over HTTP to Discord, Slack or a plain
// JSON webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"curator/internal/domain"
	"curator/internal/ratelimit"
	"curator/internal/sink"
)

type Webhook struct {
	dest    domain.Destination
	client  *http.Client
	limiter *ratelimit.Limiter
	encode  func(domain.Destination, domain.FormattedMessage) any
}

func New(dest domain.Destination, client *http.Client) (*Webhook, error) {
	if dest.URL == "" {
		return nil, fmt.Errorf("destination %s: url is required", dest.ID)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	w := &Webhook{
		dest:    dest,
		client:  client,
		limiter: ratelimit.New(float64(dest.RatePerSec), 1),
	}
	switch dest.Type {
	case domain.DestinationDiscord:
		w.encode = discordBody
	case domain.DestinationSlack:
		w.encode = slackBody
	case domain.DestinationWebhook, "":
		w.encode = func(_ domain.Destination, m domain.FormattedMessage) any { return m }
	default:
		return nil, fmt.Errorf("destination %s: type %q is not a webhook", dest.ID, dest.Type)
	}
	return w, nil
}

func (w *Webhook) Deliver(ctx context.Context, msg domain.FormattedMessage) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return &sink.Error{Kind: sink.KindTransient, Err: err}
	}
	body, err := json.Marshal(w.encode(w.dest, msg))
	if err != nil {
		return &sink.Error{Kind: sink.KindRejected, Err: fmt.Errorf("encode message: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.dest.URL, bytes.NewReader(body))
	if err != nil {
		return &sink.Error{Kind: sink.KindInvalidDestination, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &sink.Error{Kind: sink.KindTransient, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &sink.Error{
			Kind: sink.ClassifyStatus(resp.StatusCode),
			Err:  fmt.Errorf("HTTP %d error: %s", resp.StatusCode, bytes.TrimSpace(respBody)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
