// Package ingress is the HTTP surface of the webhook pipeline. The webhook
// endpoint always acknowledges with 200 and processes the payload in the
// background so that handler latency or failure never looks like a failed
// delivery to the platform.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/kickhook/internal/chat"
	"github.com/tjfontaine/kickhook/internal/dispatch"
	"github.com/tjfontaine/kickhook/internal/events"
	"github.com/tjfontaine/kickhook/internal/server"
)

// EventTypeHeader carries the platform's event type hint.
const EventTypeHeader = "Kick-Event-Type"

// DefaultPath is the webhook route used when none is configured.
const DefaultPath = "/webhooks/kick"

const maxBodyBytes = 1 << 20

// Sink receives the payloads that bypass the dispatcher.
type Sink interface {
	HandleChat(ctx context.Context, msg chat.Message)
	LivestreamStatus(ctx context.Context, raw map[string]any)
}

// Config configures the ingress.
type Config struct {
	Path   string
	Logger *slog.Logger
	Now    func() time.Time
}

// Ingress accepts webhook deliveries and reports health.
type Ingress struct {
	path       string
	logger     *slog.Logger
	parser     *events.Parser
	dispatcher *dispatch.Dispatcher
	sink       Sink
	tracer     trace.Tracer
	now        func() time.Time

	wg sync.WaitGroup
}

// New wires the ingress to its parser, dispatcher and sink.
func New(cfg Config, parser *events.Parser, dispatcher *dispatch.Dispatcher, sink Sink) *Ingress {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Ingress{
		path:       path,
		logger:     logger,
		parser:     parser,
		dispatcher: dispatcher,
		sink:       sink,
		tracer:     otel.Tracer("github.com/tjfontaine/kickhook/internal/ingress"),
		now:        now,
	}
}

// Routes mounts the webhook and health endpoints.
func (in *Ingress) Routes(r chi.Router) {
	r.Post(in.path, in.HandleWebhook)
	r.Get("/health", in.HandleHealth)
}

// Path returns the webhook route.
func (in *Ingress) Path() string {
	return in.path
}

// HandleWebhook acknowledges every delivery with 200 "OK". Malformed bodies
// are logged and dropped; anything else is processed in the background.
func (in *Ingress) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := decodeBody(r.Body)
	if err != nil {
		server.AddError(ctx, err)
		in.logger.WarnContext(ctx, "failed to decode webhook body",
			slog.String("error", err.Error()))
		acknowledge(w)
		return
	}

	hint := strings.TrimSpace(r.Header.Get(EventTypeHeader))
	eventType := Classify(raw, hint)
	server.AddLogField(ctx, "event_type", eventType)

	in.schedule(ctx, raw, hint, eventType)
	acknowledge(w)
}

func (in *Ingress) schedule(ctx context.Context, raw map[string]any, hint, eventType string) {
	bg := context.WithoutCancel(ctx)
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()

		bg, span := in.tracer.Start(bg, "webhook.process",
			trace.WithAttributes(attribute.String("event.type", eventType)))
		defer span.End()

		if err := in.Process(bg, raw, hint); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			in.logger.ErrorContext(bg, "background event processing failed",
				slog.String("event_type", eventType),
				slog.String("error", err.Error()))
		}
	}()
}

// Process classifies raw and runs it through the chat path, the livestream
// path or the parser and dispatcher. Handler errors are returned; everything
// else is logged.
func (in *Ingress) Process(ctx context.Context, raw map[string]any, hint string) error {
	if chat.Detect(raw, hint) {
		if in.sink != nil {
			in.sink.HandleChat(ctx, chat.Normalize(raw, in.now()))
		}
		return nil
	}

	if Classify(raw, hint) == string(events.TypeLivestreamStatus) {
		if in.sink != nil {
			in.sink.LivestreamStatus(ctx, raw)
		}
		return nil
	}

	env, ok := in.parser.Parse(ctx, raw, hint)
	if !ok {
		return nil
	}
	return in.dispatcher.Dispatch(ctx, env.Type, env, raw)
}

// Wait blocks until all scheduled background work has finished.
func (in *Ingress) Wait() {
	in.wg.Wait()
}

// Health is the body of GET /health.
type Health struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Path         string    `json:"path"`
	HandlerCount int       `json:"handler_count"`
}

// HandleHealth reports liveness and the number of registered handlers.
func (in *Ingress) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Health{
		Status:       "ok",
		Timestamp:    in.now().UTC(),
		Path:         in.path,
		HandlerCount: in.dispatcher.Count(),
	})
}

// Classify returns the event type of a delivery: the header hint when
// present, otherwise the payload's "event" or "type" field.
func Classify(raw map[string]any, hint string) string {
	if hint != "" {
		return hint
	}
	for _, key := range []string{"event", "type"} {
		if s, ok := raw[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

var errNotObject = errors.New("webhook body is not a JSON object")

func decodeBody(body io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, errors.New("webhook body is not valid UTF-8")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode json: trailing data after object")
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return raw, nil
}

func acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
