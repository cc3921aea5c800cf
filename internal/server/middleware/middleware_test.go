package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func do(h http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(ok)

	assert.Equal(t, http.StatusUnauthorized, do(h, "GET", "/api/events/0x1", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, "GET", "/api/events/0x1", map[string]string{"X-API-Key": "nope"}).Code)
	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/events/0x1", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/events/0x1", map[string]string{"X-API-Key": "secret"}).Code)
	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/health", nil).Code)

	assert.Equal(t, http.StatusOK, do(Auth("")(ok), "GET", "/anything", nil).Code)
}

func TestAuthWebSocketQueryKey(t *testing.T) {
	h := Auth("secret")(ok)

	assert.Equal(t, http.StatusOK, do(h, "GET", "/ws?api_key=secret", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, "GET", "/api/status?api_key=secret", nil).Code)

	rec := do(h, "GET", "/ws?api_key=wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	assert.JSONEq(t, `{"error":"invalid api key"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example/"})(ok)

	rec := do(h, "GET", "/", map[string]string{"Origin": "https://APP.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://APP.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec = do(h, "GET", "/", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	preflight := map[string]string{"Origin": "https://app.example", "Access-Control-Request-Method": "POST"}
	rec = do(h, http.MethodOptions, "/api/events/0x1/stake", preflight)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	preflight["Origin"] = "https://evil.example"
	rec = do(h, http.MethodOptions, "/api/events/0x1/stake", preflight)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, "GET", "/", nil)
	assert.Empty(t, rec.Header().Get("Vary"))
}

func TestCORSWildcard(t *testing.T) {
	for _, origins := range [][]string{nil, {"*"}} {
		rec := do(CORS(origins)(ok), "GET", "/", map[string]string{"Origin": "https://any.example"})
		assert.Equal(t, "https://any.example", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestLoggingSetsRequestID(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(ok)

	rec := do(h, "GET", "/", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	rec = do(h, "GET", "/", map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	rec = do(h, "GET", "/", map[string]string{"X-Request-ID": "has space"})
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
	rec = do(h, "GET", "/", map[string]string{"X-Request-ID": strings.Repeat("a", 65)})
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, err := l.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = l.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(NewLocalLimiter(), 1, time.Minute)(ok)
	hdr := map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}

	assert.Equal(t, http.StatusOK, do(h, "GET", "/", hdr).Code)
	rec := do(h, "GET", "/", hdr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do(h, "GET", "/", map[string]string{"X-Real-IP": "10.0.0.9"}).Code)

	open := RateLimit(brokenLimiter{}, 1, time.Minute)(ok)
	assert.Equal(t, http.StatusOK, do(open, "GET", "/", nil).Code)
}
