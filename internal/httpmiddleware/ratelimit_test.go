package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBucketRefills(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
}

func TestPruneDropsIdleBuckets(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }
	l.allow("a")

	l.prune(now.Add(10 * time.Second))
	assert.Empty(t, l.state)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/attend/:id/", NewSimpleTokenBucket(1, 1).GinMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/attend/s1/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/attend/s2/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "limit is per route, not per session id")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
