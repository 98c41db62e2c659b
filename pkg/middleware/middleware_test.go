package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestAuthRequired(t *testing.T) {
	r := newEngine()
	r.GET("/protected", AuthRequired(), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUserID(c))
	})

	t.Run("missing identity", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("identity passed through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("X-User-ID", "u1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "u1", w.Body.String())
	})

	t.Run("blank identity rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("X-User-ID", "   ")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRateLimiterDeniesOverLimit(t *testing.T) {
	r := newEngine()
	rl := NewRateLimiter(RateLimiterConfig{Rate: "2-S", AddHeaders: true}, nil)
	r.GET("/limited", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterSkipsConfiguredPaths(t *testing.T) {
	r := newEngine()
	rl := NewRateLimiter(RateLimiterConfig{Rate: "1-S", SkipPaths: []string{"/health"}}, nil)
	r.GET("/health", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestIdempotencyRejectsDuplicateKey(t *testing.T) {
	r := newEngine()
	r.POST("/submit", IdempotencyMiddleware(IdempotencyConfig{TTL: time.Minute}),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(key, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(body))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("k1", "a"))
	assert.Equal(t, http.StatusConflict, send("k1", "a"))
	assert.Equal(t, http.StatusOK, send("k2", "a"))

	// 无显式键时退化为请求体哈希
	assert.Equal(t, http.StatusOK, send("", "body-1"))
	assert.Equal(t, http.StatusConflict, send("", "body-1"))
	assert.Equal(t, http.StatusOK, send("", "body-2"))
}
