package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RequestIDMiddleware(handler)

	req := httptest.NewRequest("POST", "/webhooks/kick", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if seen == "" {
		t.Error("Expected request ID in context")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("X-Request-ID = %q, want %q", rec.Header().Get("X-Request-ID"), seen)
	}
}

func TestRequestIDMiddleware_DeliveryID(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantSame bool
	}{
		{"platform id reused", "01JH8ZQ7X4K3M2", true},
		{"blank header", "   ", false},
		{"oversized header", strings.Repeat("a", maxDeliveryIDLen+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
			req := httptest.NewRequest("POST", "/", nil)
			req.Header.Set(DeliveryIDHeader, tt.header)
			rec := httptest.NewRecorder()
			RequestIDMiddleware(handler).ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			if got == "" {
				t.Fatal("X-Request-ID not set")
			}
			if (got == tt.header) != tt.wantSame {
				t.Errorf("X-Request-ID = %q, header %q", got, tt.header)
			}
		})
	}
}

func TestRequestIDMiddleware_UniqueIDs(t *testing.T) {
	wrapped := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec1 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec1, httptest.NewRequest("GET", "/", nil))
	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, httptest.NewRequest("GET", "/", nil))

	if id1, id2 := rec1.Header().Get("X-Request-ID"), rec2.Header().Get("X-Request-ID"); id1 == id2 {
		t.Errorf("Expected unique request IDs, got same: %s", id1)
	}
}

func TestGetRequestID_NotSet(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	wrapped := RequestIDMiddleware(LoggingMiddleware(logger)(testHandler))

	req := httptest.NewRequest("POST", "/webhooks/kick", nil)
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	output := buf.String()
	for _, want := range []string{"request started", "request completed", "/webhooks/kick", "status=200", "bytes=2"} {
		if !strings.Contains(output, want) {
			t.Errorf("log missing %q: %s", want, output)
		}
	}
}

func TestLoggingMiddleware_ServerErrorIsWarn(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	output := buf.String()
	if !strings.Contains(output, "level=WARN") || !strings.Contains(output, "status=503") {
		t.Errorf("expected warn line with status 503, got: %s", output)
	}
	if strings.Contains(output, "request started") {
		t.Error("start line should be debug only")
	}
}

func TestAddLogField(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "event_type", "channel.followed")
		AddLogField(r.Context(), "empty_field", "")
		w.WriteHeader(http.StatusOK)
	})
	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", nil))

	output := buf.String()
	if !strings.Contains(output, "event_type=channel.followed") {
		t.Errorf("Expected custom field in log output, got: %s", output)
	}
	if strings.Contains(output, "empty_field") {
		t.Errorf("Empty field should not be in log output, got: %s", output)
	}
}

func TestAddLogField_NoContext(t *testing.T) {
	AddLogField(context.Background(), "key", "value")
	AddError(context.Background(), nil)
}

func TestAddError(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddError(r.Context(), errors.New("decode json: unexpected EOF"))
		w.WriteHeader(http.StatusOK)
	})
	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", nil))

	if output := buf.String(); !strings.Contains(output, "unexpected EOF") {
		t.Errorf("Expected error in log output, got: %s", output)
	}
}

func TestServer_Middleware(t *testing.T) {
	var buf strings.Builder
	s := New(Config{Port: 0, RequestTimeout: 50 * time.Millisecond}, slog.New(slog.NewTextHandler(&buf, nil)))

	s.Router.Get("/deadline", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("Expected context to have deadline")
		}
		w.WriteHeader(http.StatusOK)
	})
	s.Router.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("handler bug")
	})

	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest("GET", "/deadline", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}

	rec = httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest("GET", "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("panic status = %d, want 500", rec.Code)
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	s := New(Config{Port: 0}, slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
