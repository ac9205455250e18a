package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"cardvault/pkg/domain"
)

// CallerValidator validates a bearer token and returns the caller address it
// asserts. Wallet and key management live outside this service; the token is
// how the presentation layer proves which address is invoking an operation.
type CallerValidator interface {
	ValidateToken(tokenString string) (domain.Address, error)
}

type contextKeyCaller struct{}

// ContextKeyCaller is exported for tests that inject a caller directly.
var ContextKeyCaller = contextKeyCaller{}

// GetCaller retrieves the authenticated caller address from the context.
func GetCaller(ctx context.Context) domain.Address {
	addr, ok := ctx.Value(ContextKeyCaller).(domain.Address)
	if !ok {
		return ""
	}
	return addr
}

// WithCaller returns a context carrying the caller address. Test helper.
func WithCaller(ctx context.Context, addr domain.Address) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, addr)
}

// RequireCaller enforces bearer-token authentication and stores the caller
// address in the request context.
func RequireCaller(validator CallerValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w)
				return
			}
			addr, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "caller token rejected",
					"request_id", GetRequestID(r.Context()),
					"error", err.Error(),
				)
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyCaller, addr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"bearer token required"}`))
}
