package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/kickhook/internal/events"
)

type call struct {
	name string
	raw  map[string]any
}

func recordingHandler(name string, calls *[]call, err error) Handler {
	return NewHandler(name, func(ctx context.Context, env *events.Envelope, raw map[string]any) error {
		*calls = append(*calls, call{name: name, raw: raw})
		return err
	})
}

func testEnvelope(t *testing.T, et events.EventType, data events.Data) *events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope("e1", et, "c1", time.Now(), data)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	return env
}

func TestDispatch_InvokesExactlyOneHandler(t *testing.T) {
	var calls []call
	d := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	d.Register(events.TypeFollow, recordingHandler("follow", &calls, nil))
	d.Register(events.TypeNewSubscription, recordingHandler("sub", &calls, nil))

	env := testEnvelope(t, events.TypeFollow, events.FollowData{})
	if err := d.Dispatch(context.Background(), events.TypeFollow, env, map[string]any{"k": "v"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(calls) != 1 || calls[0].name != "follow" {
		t.Fatalf("calls = %+v, want one follow call", calls)
	}
	if calls[0].raw != nil {
		t.Error("raw payload should only reach the gifted-subscription handler")
	}
}

func TestDispatch_RawOnlyForGifts(t *testing.T) {
	var calls []call
	d := New(nil)
	d.Register(events.TypeGiftedSubscription, recordingHandler("gift", &calls, nil))

	env := testEnvelope(t, events.TypeGiftedSubscription, events.GiftedSubscriptionData{})
	raw := map[string]any{"id": "e1"}
	if err := d.Dispatch(context.Background(), events.TypeGiftedSubscription, env, raw); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(calls) != 1 || calls[0].raw == nil {
		t.Fatalf("calls = %+v, want gift call with raw payload", calls)
	}
}

func TestDispatch_MissingHandler(t *testing.T) {
	var buf bytes.Buffer
	d := New(slog.New(slog.NewTextHandler(&buf, nil)))

	env := testEnvelope(t, events.TypeFollow, events.FollowData{})
	if err := d.Dispatch(context.Background(), events.TypeFollow, env, nil); err != nil {
		t.Errorf("Dispatch() error = %v, want nil", err)
	}
	if !strings.Contains(buf.String(), "no handler registered") {
		t.Errorf("expected warning, got: %s", buf.String())
	}
}

func TestRegister_LastWins(t *testing.T) {
	var calls []call
	d := New(nil)
	d.Register(events.TypeFollow, recordingHandler("first", &calls, nil))
	d.Register(events.TypeFollow, recordingHandler("second", &calls, nil))

	if d.Count() != 1 {
		t.Errorf("Count() = %d, want 1", d.Count())
	}
	env := testEnvelope(t, events.TypeFollow, events.FollowData{})
	_ = d.Dispatch(context.Background(), events.TypeFollow, env, nil)
	if len(calls) != 1 || calls[0].name != "second" {
		t.Errorf("calls = %+v, want only second", calls)
	}
}

func TestDispatch_HandlerErrorIsLoggedAndReturned(t *testing.T) {
	var buf bytes.Buffer
	var calls []call
	boom := errors.New("boom")
	d := New(slog.New(slog.NewTextHandler(&buf, nil)))
	d.Register(events.TypeFollow, recordingHandler("follow", &calls, boom))

	env := testEnvelope(t, events.TypeFollow, events.FollowData{})
	err := d.Dispatch(context.Background(), events.TypeFollow, env, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Dispatch() error = %v, want wrapping boom", err)
	}
	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("Dispatch() error type = %T, want *HandlerError", err)
	}
	if herr.Handler != "follow" || herr.EventType != events.TypeFollow || herr.EventID != "e1" {
		t.Errorf("HandlerError = %+v", herr)
	}
	out := buf.String()
	for _, want := range []string{"handler=follow", "event_type=channel.followed", "event_id=e1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}

func TestDispatch_PanicBecomesHandlerError(t *testing.T) {
	d := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	d.Register(events.TypeFollow, NewHandler("follow", func(ctx context.Context, env *events.Envelope, raw map[string]any) error {
		panic("nil map")
	}))

	env := testEnvelope(t, events.TypeFollow, events.FollowData{})
	err := d.Dispatch(context.Background(), events.TypeFollow, env, nil)
	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("Dispatch() error = %v, want *HandlerError", err)
	}
	if !strings.Contains(herr.Err.Error(), "nil map") {
		t.Errorf("Err = %v", herr.Err)
	}
}
