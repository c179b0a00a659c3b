package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// DeliveryIDHeader carries the platform's unique id for one webhook delivery.
const DeliveryIDHeader = "Kick-Event-Message-Id"

type contextKey string

// RequestIDKey is the context key for request IDs
const RequestIDKey contextKey = "request_id"

const maxDeliveryIDLen = 128

// RequestIDMiddleware tags each request with an id and echoes it in
// X-Request-ID. Webhook deliveries reuse the platform's delivery id so that
// logs can be matched against the platform's retry history.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(DeliveryIDHeader))
		if requestID == "" || len(requestID) > maxDeliveryIDLen {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID from ctx, or "".
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
