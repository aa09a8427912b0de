package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestEnforcePostJSON(t *testing.T) {
	t.Parallel()

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		_, _ = w.Write(body)
	})
	mw := enforcePostJSON(echo)

	t.Run("method not allowed", func(t *testing.T) {
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
		require.Equal(t, "POST", rr.Header().Get("Allow"))
	})

	t.Run("malformed content type", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.Equal(t, "Malformed Content-Type header\n", rr.Body.String())
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "text/plain")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
		require.Equal(t, "Content-Type header must be application/json\n", rr.Body.String())
	})

	t.Run("blank content type is treated as json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"a":1}`))
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, `{"a":1}`, rr.Body.String())
	})

	t.Run("no body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.Equal(t, "No body provided\n", rr.Body.String())
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"a":`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.Equal(t, "Malformed JSON\n", rr.Body.String())
	})

	t.Run("body is replayed to the next handler", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"username":"alice"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, `{"username":"alice"}`, rr.Body.String())
	})
}

func TestRateLimiterPerIP(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(rate.Every(time.Hour), 2, time.Minute)
	defer rl.Stop()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := rl.limit(ok)

	do := func(addr string) int {
		req := httptest.NewRequest("POST", "/login/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, do("10.0.0.1:1111"))
	require.Equal(t, http.StatusOK, do("10.0.0.1:2222"))
	require.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:3333"))

	// a different client has its own bucket
	require.Equal(t, http.StatusOK, do("10.0.0.2:1111"))
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	require.Equal(t, "10.0.0.1", clientIP("10.0.0.1:38412"))
	require.Equal(t, "::1", clientIP("[::1]:8080"))
	require.Equal(t, "garbage", clientIP("garbage"))
}
