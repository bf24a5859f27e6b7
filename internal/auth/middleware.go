package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// RequireAuth validates the bearer token for protected routes (stateless).
// Missing or invalid tokens get a 401 JSON body.
func (v *TokenVerifier) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ExtractBearerToken(r)
			if raw == "" {
				v.observe("missing")
				writeUnauthorized(w, ErrMissingToken.Error())
				return
			}

			principal, err := v.Verify(raw)
			if err != nil {
				v.observe("invalid")
				// Same message for bad signature and expiry.
				writeUnauthorized(w, ErrInvalidToken.Error())
				return
			}

			v.observe("ok")
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// OptionalAuth extracts the principal if present but doesn't require it.
// It never writes a response.
func (v *TokenVerifier) OptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := ExtractBearerToken(r); raw != "" {
				if principal, err := v.Verify(raw); err == nil {
					v.observe("ok")
					r = r.WithContext(WithPrincipal(r.Context(), principal))
				} else {
					v.observe("invalid")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractBearerToken returns the token from an "Authorization: Bearer <token>"
// header, or "" when the header is absent or uses another scheme.
func ExtractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// StatusFor maps verification errors to HTTP status codes.
func StatusFor(err error) int {
	if errors.Is(err, ErrMissingToken) || errors.Is(err, ErrInvalidToken) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
