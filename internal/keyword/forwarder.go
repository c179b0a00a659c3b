// Package keyword forwards chat messages containing a trigger keyword to an
// external HTTP endpoint.
package keyword

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config configures a Forwarder.
type Config struct {
	Trigger string
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// Forwarder posts {nickname, context} to a fixed URL. Each call is attempted
// once.
type Forwarder struct {
	trigger string
	url     string
	headers map[string]string
	client  *http.Client
}

// New returns nil when no URL or trigger is configured.
func New(cfg Config) *Forwarder {
	trigger := strings.ToLower(strings.TrimSpace(cfg.Trigger))
	if cfg.URL == "" || trigger == "" {
		return nil
	}
	return &Forwarder{
		trigger: trigger,
		url:     cfg.URL,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type request struct {
	Nickname string `json:"nickname"`
	Context  string `json:"context"`
}

// Matches reports whether content contains the trigger, ignoring case.
func (f *Forwarder) Matches(content string) bool {
	return strings.Contains(strings.ToLower(content), f.trigger)
}

// Forward posts the sender nickname and message text to the configured URL.
func (f *Forwarder) Forward(ctx context.Context, nickname, text string) error {
	body, err := json.Marshal(request{Nickname: nickname, Context: text})
	if err != nil {
		return fmt.Errorf("marshal keyword request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("keyword request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("keyword endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
