package middleware

import (
	"context"
	"net"
	"net/http"
)

// ClientContextKey is a strict type for context keys to prevent collisions.
type ClientContextKey string

const (
	// ClientKey is the context key for the client identity.
	ClientKey ClientContextKey = "client_id"
	// ClientHeader optionally names the caller for per-client rate limiting.
	ClientHeader = "X-Client-ID"
)

// ClientMiddleware resolves the caller identity from X-Client-ID, falling back
// to the remote host, and injects it into the context.
func ClientMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ClientKey, clientID(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientID(r *http.Request) string {
	if id := r.Header.Get(ClientHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientFromContext returns the client identity, or the remote host when the
// middleware did not run.
func ClientFromContext(r *http.Request) string {
	if id, ok := r.Context().Value(ClientKey).(string); ok && id != "" {
		return id
	}
	return clientID(r)
}
