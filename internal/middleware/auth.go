package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/bryanwahyu/healthmate/internal/domain/identity"
	"github.com/bryanwahyu/healthmate/internal/infra/auth"
)

// Authenticate resolves the Authorization bearer token and stores the resulting
// identity in the request context. It never rejects; see RequireUser.
func Authenticate(resolver identity.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			id := resolver.Resolve(r.Context(), token)
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireUser rejects requests without a resolved identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.FromContext(r.Context())
		switch id.Kind {
		case identity.Resolved:
			next.ServeHTTP(w, r)
		case identity.Invalid:
			writeError(w, http.StatusUnauthorized, "Invalid token", id.Err.Error())
		default:
			writeError(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
		}
	})
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	body := map[string]any{"message": message}
	if details != "" {
		body["details"] = details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
