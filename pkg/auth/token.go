// Package auth implements service-to-service authentication: short-lived HS256
// service tokens and static API-key verification.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token fails signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a token has expired.
	ErrTokenExpired = errors.New("token expired")
)

// ServiceClaims identifies a calling service.
type ServiceClaims struct {
	Service   string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// MintServiceToken issues an HS256 token naming the calling service.
func MintServiceToken(secret, service string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"service": service,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	if len(scopes) > 0 {
		claims["scopes"] = scopes
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyServiceToken parses and validates a service token.
func VerifyServiceToken(tokenStr, secret string) (*ServiceClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	sc := &ServiceClaims{
		Service: toString(claims["service"]),
		Scopes:  toStringSlice(claims["scopes"]),
	}
	if sc.Service == "" {
		return nil, ErrInvalidToken
	}
	if iat, ok := claims["iat"].(float64); ok {
		sc.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := claims["exp"].(float64); ok {
		sc.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return sc, nil
}

// VerifyServiceKey compares a presented API key with the configured one in
// constant time.
func VerifyServiceKey(presented, configured string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// HasScope checks if the claims carry the given scope.
func (c *ServiceClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Helper to convert interface{} to string.
func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Helper to convert interface{} to []string.
func toStringSlice(v interface{}) []string {
	if v == nil {
		return nil
	}
	if arr, ok := v.([]interface{}); ok {
		res := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				res = append(res, s)
			}
		}
		return res
	}
	if arr, ok := v.([]string); ok {
		return arr
	}
	return nil
}

// contextKey carries verified service claims through a request context.
type contextKey struct{}

// NewContext returns a new context carrying the given claims.
func NewContext(ctx context.Context, claims *ServiceClaims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext extracts service claims from the context, if present.
func FromContext(ctx context.Context) (*ServiceClaims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*ServiceClaims)
	return claims, ok
}
