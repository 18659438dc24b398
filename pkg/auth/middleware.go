package auth

import (
	"net/http"
	"strings"
)

// ServiceKeyHeader is the header carrying the static shared API key.
const ServiceKeyHeader = "X-Service-Key"

// extractBearerToken extracts the token from the Authorization header.
func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// Middleware verifies either the static service key or a bearer service token.
// Requests failing both checks receive 401 and are not forwarded.
func Middleware(secret, serviceKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if VerifyServiceKey(r.Header.Get(ServiceKeyHeader), serviceKey) {
			ctx := NewContext(r.Context(), &ServiceClaims{Service: "api-key"})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if tokenStr := extractBearerToken(r.Header.Get("Authorization")); tokenStr != "" {
			claims, err := VerifyServiceToken(tokenStr, secret)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), claims)))
				return
			}
		}

		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	})
}
