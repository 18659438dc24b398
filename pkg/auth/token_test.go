package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestMintAndVerify(t *testing.T) {
	tok, err := MintServiceToken(testSecret, "router", []string{"reputation:write"}, time.Minute)
	require.NoError(t, err)

	claims, err := VerifyServiceToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "router", claims.Service)
	assert.True(t, claims.HasScope("reputation:write"))
	assert.False(t, claims.HasScope("reputation:admin"))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, err := MintServiceToken(testSecret, "router", nil, time.Minute)
	require.NoError(t, err)

	_, err = VerifyServiceToken(tok, "other-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	tok, err := MintServiceToken(testSecret, "router", nil, -time.Minute)
	require.NoError(t, err)

	_, err = VerifyServiceToken(tok, testSecret)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyServiceKey(t *testing.T) {
	assert.True(t, VerifyServiceKey("k1", "k1"))
	assert.False(t, VerifyServiceKey("k1", "k2"))
	assert.False(t, VerifyServiceKey("", ""))
	assert.False(t, VerifyServiceKey("k1", ""))
}

func TestMiddleware(t *testing.T) {
	var gotService string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := FromContext(r.Context()); ok {
			gotService = claims.Service
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(testSecret, "static-key", next)

	t.Run("service key accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(ServiceKeyHeader, "static-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		tok, err := MintServiceToken(testSecret, "receiver", nil, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "receiver", gotService)
	})

	t.Run("missing credentials rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
