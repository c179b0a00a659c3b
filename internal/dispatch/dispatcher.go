// Package dispatch routes parsed events to the handler registered for their
// type.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/tjfontaine/kickhook/internal/events"
)

// Handler processes one event. raw is the original payload; the dispatcher
// only supplies it to the gifted-subscription handler and passes nil
// otherwise.
type Handler interface {
	Name() string
	Handle(ctx context.Context, env *events.Envelope, raw map[string]any) error
}

// HandlerFunc adapts a function into a named Handler.
type HandlerFunc func(ctx context.Context, env *events.Envelope, raw map[string]any) error

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// NewHandler returns a Handler called name that runs fn.
func NewHandler(name string, fn HandlerFunc) Handler {
	return namedHandler{name: name, fn: fn}
}

func (h namedHandler) Name() string { return h.name }

func (h namedHandler) Handle(ctx context.Context, env *events.Envelope, raw map[string]any) error {
	return h.fn(ctx, env, raw)
}

// HandlerError reports a handler failure with the context needed to trace it.
type HandlerError struct {
	Handler   string
	EventType events.EventType
	EventID   string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed for %s event %s: %v", e.Handler, e.EventType, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Dispatcher is a mutable registry of event type to handler.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[events.EventType]Handler
}

func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[events.EventType]Handler),
	}
}

// Register sets the handler for t, replacing any previous registration.
func (d *Dispatcher) Register(t events.EventType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

// Lookup returns the handler registered for t.
func (d *Dispatcher) Lookup(t events.EventType) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[t]
	return h, ok
}

// Count returns the number of registered handlers.
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Dispatch invokes the handler for t. A missing handler is logged and is not
// an error. Handler errors and panics are logged and returned as
// *HandlerError.
func (d *Dispatcher) Dispatch(ctx context.Context, t events.EventType, env *events.Envelope, raw map[string]any) error {
	h, ok := d.Lookup(t)
	if !ok {
		d.logger.WarnContext(ctx, "no handler registered for event type",
			slog.String("event_type", string(t)),
			slog.String("event_id", eventID(env)))
		return nil
	}

	if t != events.TypeGiftedSubscription {
		raw = nil
	}

	if err := invoke(ctx, h, env, raw); err != nil {
		herr := &HandlerError{
			Handler:   h.Name(),
			EventType: t,
			EventID:   eventID(env),
			Err:       err,
		}
		d.logger.ErrorContext(ctx, "event handler failed",
			slog.String("handler", herr.Handler),
			slog.String("event_type", string(t)),
			slog.String("event_id", herr.EventID),
			slog.String("error", err.Error()))
		return herr
	}
	return nil
}

func invoke(ctx context.Context, h Handler, env *events.Envelope, raw map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.Handle(ctx, env, raw)
}

func eventID(env *events.Envelope) string {
	if env == nil {
		return ""
	}
	return env.ID
}
