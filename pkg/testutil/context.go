package testutil

import (
	"context"
	"net/http"

	"cardvault/internal/platform/middleware"
	"cardvault/pkg/domain"
)

// WithCaller adds a caller address to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// If the address is not valid, it will not be added to the context.
func WithCaller(req *http.Request, addr string) *http.Request {
	if parsed, err := domain.ParseAddress(addr); err == nil {
		ctx := context.WithValue(req.Context(), middleware.ContextKeyCaller, parsed)
		return req.WithContext(ctx)
	}
	return req
}

// WithRequestID adds a request ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.ContextKeyRequestID, requestID)
	return req.WithContext(ctx)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
