package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/service"
	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiter_RefillsPerInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("member:1"))
	assert.True(t, rl.allow("member:1"))
	assert.False(t, rl.allow("member:1"))
	assert.True(t, rl.allow("member:2"), "buckets are per key")

	now = now.Add(time.Minute)
	assert.True(t, rl.allow("member:1"))
}

func TestRateLimiter_KeysByMember(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 1, time.Minute)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Member"); id == "9" {
			c.Set(ContextKeyClaims, &service.Claims{MemberID: 9})
		}
		c.Next()
	})
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	call := func(member string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if member != "" {
			req.Header.Set("X-Member", member)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("9"))
	assert.Equal(t, http.StatusTooManyRequests, call("9"))
	assert.Equal(t, http.StatusNoContent, call(""), "anonymous callers use the IP bucket")
}

func TestBrotli(t *testing.T) {
	big := strings.Repeat("soal ", 1000)

	r := gin.New()
	r.Use(Brotli(), NoStore())
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, big) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	t.Run("large body is compressed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/big", nil)
		req.Header.Set("Accept-Encoding", "gzip, br")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(rec.Body.Bytes())))
		require.NoError(t, err)
		assert.Equal(t, big, string(body))
	})

	t.Run("small body is plain", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/small", nil)
		req.Header.Set("Accept-Encoding", "br")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Equal(t, "ok", rec.Body.String())
	})

	t.Run("no accept encoding", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/big", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Equal(t, big, rec.Body.String())
	})
}
