// Package bot provides adapters for the chat bot that owns outbound
// messaging: an HTTP client for a bot sidecar and a log-only fallback.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/kickhook/internal/chat"
)

// Config configures the HTTP bot adapter.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// Client overrides the default instrumented client.
	Client *http.Client
}

// HTTPBot forwards bot operations to a sidecar over HTTP.
type HTTPBot struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	live    atomic.Bool
}

// NewHTTP returns a bot that calls the sidecar at cfg.BaseURL.
func NewHTTP(cfg Config, logger *slog.Logger) *HTTPBot {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPBot{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

type sendRequest struct {
	Message string `json:"message"`
}

type giftPointsRequest struct {
	Username string `json:"username"`
	Count    int    `json:"count"`
}

// SendText posts a chat message for the bot to send.
func (b *HTTPBot) SendText(ctx context.Context, message string) error {
	return b.post(ctx, "/send", sendRequest{Message: message})
}

// HandleChatMessage hands a canonical chat record to the bot, which owns
// de-duplication.
func (b *HTTPBot) HandleChatMessage(ctx context.Context, msg chat.Message) error {
	return b.post(ctx, "/chat", msg)
}

// AwardGiftPoints asks the bot to credit a gifter through its native
// gift-points pathway.
func (b *HTTPBot) AwardGiftPoints(ctx context.Context, username string, count int) error {
	return b.post(ctx, "/gift-points", giftPointsRequest{Username: username, Count: count})
}

// SetLive records whether the channel is live and logs transitions.
func (b *HTTPBot) SetLive(live bool) {
	if b.live.Swap(live) != live {
		b.logger.Info("liveness changed", slog.Bool("is_live", live))
	}
}

// IsLive reports the last liveness value set.
func (b *HTTPBot) IsLive() bool {
	return b.live.Load()
}

func (b *HTTPBot) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bot request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bot %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogBot logs every operation instead of performing it. It is used when no
// bot endpoint is configured.
type LogBot struct {
	logger *slog.Logger
	live   atomic.Bool
}

// NewLog returns a bot that only logs.
func NewLog(logger *slog.Logger) *LogBot {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogBot{logger: logger}
}

// SendText logs the message instead of sending it.
func (b *LogBot) SendText(ctx context.Context, message string) error {
	b.logger.InfoContext(ctx, "bot send", slog.String("message", message))
	return nil
}

// HandleChatMessage logs the message id and sender at debug level.
func (b *LogBot) HandleChatMessage(ctx context.Context, msg chat.Message) error {
	b.logger.DebugContext(ctx, "bot chat message",
		slog.String("message_id", msg.ID),
		slog.String("sender", msg.SenderUsername))
	return nil
}

// AwardGiftPoints logs the gifter and gift count.
func (b *LogBot) AwardGiftPoints(ctx context.Context, username string, count int) error {
	b.logger.InfoContext(ctx, "bot gift points",
		slog.String("username", username),
		slog.Int("count", count))
	return nil
}

// SetLive records and logs the liveness flag.
func (b *LogBot) SetLive(live bool) {
	b.live.Store(live)
	b.logger.Info("liveness updated", slog.Bool("is_live", live))
}

// IsLive reports the last liveness value set.
func (b *LogBot) IsLive() bool {
	return b.live.Load()
}
