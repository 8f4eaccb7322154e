package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	h := Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/bookings?x=1", nil))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, http.MethodPost, fields["method"])
	assert.Equal(t, "/api/bookings?x=1", fields["uri"])
	assert.Equal(t, int64(http.StatusCreated), fields["status"])
	assert.Equal(t, int64(5), fields["size"])
}

func TestIPRateLimiter(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	l := NewIPRateLimiter(0.001, 2, zap.New(core))

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote, forwarded string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/payment/vnpay/ipn", nil)
		r.RemoteAddr = remote
		if forwarded != "" {
			r.Header.Set("X-Forwarded-For", forwarded)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:5000", ""))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:5001", ""))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:5002", ""))

	assert.Equal(t, http.StatusOK, do("10.0.0.2:5000", ""))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:5003", "203.0.113.7, 10.0.0.1"))

	assert.Equal(t, 1, logs.FilterMessage("rate limit exceeded").Len())
}

func TestIPRateLimiterRejectWith(t *testing.T) {
	l := NewIPRateLimiter(0.001, 1, zap.NewNop())

	h := l.RejectWith(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"RspCode":"99"}`))
	}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"RspCode":"00"}`))
	}))

	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/payment/vnpay/ipn", nil)
		r.RemoteAddr = "10.0.0.9:4000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	first := do()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, `{"RspCode":"00"}`, first.Body.String())

	second := do()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"RspCode":"99"}`, second.Body.String())
}
