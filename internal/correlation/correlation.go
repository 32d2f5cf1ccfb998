// Package correlation carries the id that ties an HTTP request or consumed
// event to the events published while handling it.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const Header = "X-Correlation-Id"

type ctxKey struct{}

func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id of ctx, or "" when there is none.
func FromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKey{}).(string); ok {
		return s
	}
	return ""
}

// Middleware reuses the caller's correlation id or assigns a new one, and
// echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(Header)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(Header, cid)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), cid)))
	})
}
