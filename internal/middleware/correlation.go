package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CorrelationHeader carries the per-request correlation id in both directions.
const CorrelationHeader = "X-Correlation-Id"

type correlationKey struct{}

// WithCorrelationID stores id on ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// ResolveCorrelationID keeps a caller-supplied id or mints a new one.
func ResolveCorrelationID(supplied string) string {
	supplied = strings.TrimSpace(supplied)
	if supplied != "" && len(supplied) <= 128 {
		return supplied
	}
	return uuid.NewString()
}

// NewCorrelationMiddleware echoes or assigns X-Correlation-Id and puts it on
// the request context.
func NewCorrelationMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ResolveCorrelationID(r.Header.Get(CorrelationHeader))
			w.Header().Set(CorrelationHeader, id)
			next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), id)))
		})
	}
}
