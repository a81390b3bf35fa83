package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(backend Backend, keyFn KeyFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(backend, keyFn))
	r.GET("/api/v1/tasks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func doGet(r http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestMiddleware_ThrottledResponse(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]RouteConfig{
		"/api/v1/tasks": {Window: time.Minute, MaxRequests: 2},
	})
	r := newRouter(l, nil)

	first := doGet(r, nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))

	require.Equal(t, http.StatusOK, doGet(r, nil).Code)

	rr := doGet(r, nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestMiddleware_DistinctUserAgentsAreDistinctClients(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]RouteConfig{
		"/api/v1/tasks": {Window: time.Minute, MaxRequests: 1},
	})
	r := newRouter(l, nil)

	assert.Equal(t, http.StatusOK, doGet(r, map[string]string{"User-Agent": "a"}).Code)
	assert.Equal(t, http.StatusOK, doGet(r, map[string]string{"User-Agent": "b"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(r, map[string]string{"User-Agent": "a"}).Code)
}

func TestMiddleware_OverloadedResponse(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]RouteConfig{
		"/api/v1/tasks": {Window: time.Minute, MaxRequests: 5, MaxDistinctKeys: 1},
	})
	r := newRouter(l, nil)

	require.Equal(t, http.StatusOK, doGet(r, map[string]string{"X-Forwarded-For": "1.1.1.1"}).Code)

	rr := doGet(r, map[string]string{"X-Forwarded-For": "2.2.2.2"})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "service overloaded")
}

func TestMiddleware_DisabledSetsNoHeaders(t *testing.T) {
	r := newRouter(New(DefaultRoutes(), Disabled()), nil)

	for i := 0; i < 200; i++ {
		require.Equal(t, http.StatusOK, doGet(r, nil).Code)
	}
	assert.Empty(t, doGet(r, nil).Header().Get("X-RateLimit-Limit"))
}

type failingBackend struct{}

func (failingBackend) Hit(context.Context, string, string) (Result, error) {
	return Result{}, errors.New("redis down")
}

func (failingBackend) Peek(context.Context, string, string) (Result, error) {
	return Result{}, errors.New("redis down")
}

func TestMiddleware_BackendErrorFailsOpen(t *testing.T) {
	r := newRouter(failingBackend{}, nil)
	assert.Equal(t, http.StatusOK, doGet(r, nil).Code)
}

func TestUserOrClientKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("User-Agent", "ua")

	keyFn := UserOrClientKey("firebase_uid")
	anon := keyFn(c)
	assert.Contains(t, anon, "fp:")

	c.Set("firebase_uid", "user-42")
	assert.Equal(t, "user:user-42", keyFn(c))
}

func TestClientKey_APIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set(APIKeyHeader, "secret-key")

	key := ClientKey(c)
	assert.Equal(t, "key:"+hashKey("secret-key"), key)
	assert.NotContains(t, key, "secret-key")
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("203.0.113.5, 10.0.0.1", "", "Mozilla/5.0")
	b := Fingerprint("203.0.113.5", "192.168.1.1:443", "Mozilla/5.0")
	assert.Equal(t, a, b, "only the first forwarded address counts")
	assert.Len(t, a, 32)

	c := Fingerprint("", "192.168.1.1:443", "Mozilla/5.0")
	d := Fingerprint("", "192.168.1.1:9999", "Mozilla/5.0")
	assert.Equal(t, c, d, "remote port is ignored")

	assert.NotEqual(t, a, Fingerprint("203.0.113.5", "", "curl/8.0"))
	assert.NotContains(t, a, "203.0.113.5")
}

func newGuardedRouter(backend Backend, verify func(c *gin.Context) bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthFailureGuard(backend, nil))
	r.Use(func(c *gin.Context) {
		if !verify(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
			return
		}
		c.Next()
	})
	r.GET("/api/v1/tasks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestAuthFailureGuard_ThrottlesRepeatedFailures(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]RouteConfig{
		"/api/v1/tasks": {Window: time.Minute, MaxRequests: 3},
	})
	verified := 0
	r := newGuardedRouter(l, func(c *gin.Context) bool {
		verified++
		return c.GetHeader("Authorization") == "Bearer good"
	})
	bad := map[string]string{"Authorization": "Bearer junk"}

	counts := map[int]int{}
	for i := 0; i < 20; i++ {
		counts[doGet(r, bad).Code]++
	}
	assert.Equal(t, map[int]int{http.StatusUnauthorized: 3, http.StatusTooManyRequests: 17}, counts)
	assert.Equal(t, 3, verified, "throttled requests never reach verification")

	rr := doGet(r, bad)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
}

func TestAuthFailureGuard_SuccessesAreNotCounted(t *testing.T) {
	l, clk := newTestLimiter(t, map[string]RouteConfig{
		"/api/v1/tasks": {Window: time.Minute, MaxRequests: 2},
	})
	r := newGuardedRouter(l, func(c *gin.Context) bool {
		return c.GetHeader("Authorization") == "Bearer good"
	})
	good := map[string]string{"Authorization": "Bearer good"}

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, doGet(r, good).Code)
	}

	doGet(r, map[string]string{"Authorization": "Bearer junk"})
	doGet(r, map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusTooManyRequests, doGet(r, good).Code, "the client is locked out by its failures")

	clk.Advance(time.Minute)
	assert.Equal(t, http.StatusOK, doGet(r, good).Code)
}

func TestAuthFailureGuard_DisabledLimiter(t *testing.T) {
	table, err := NewRouteTable(map[string]RouteConfig{
		"/api/v1/tasks": {Window: time.Minute, MaxRequests: 1},
	}, DefaultFallback())
	require.NoError(t, err)
	r := newGuardedRouter(New(table, Disabled()), func(*gin.Context) bool { return false })

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusUnauthorized, doGet(r, nil).Code)
	}
}

func TestAuthFailureGuard_BackendErrorFailsOpen(t *testing.T) {
	r := newGuardedRouter(failingBackend{}, func(*gin.Context) bool { return true })
	assert.Equal(t, http.StatusOK, doGet(r, nil).Code)
}
