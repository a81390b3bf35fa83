package ratelimit

import (
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const APIKeyHeader = "X-API-Key"

// KeyFunc derives the rate-limit key for a request.
type KeyFunc func(c *gin.Context) string

// ClientKey keys by hashed API key when one is sent, otherwise by client fingerprint.
func ClientKey(c *gin.Context) string {
	if k := strings.TrimSpace(c.GetHeader(APIKeyHeader)); k != "" {
		return "key:" + hashKey(k)
	}
	return "fp:" + Fingerprint(
		c.GetHeader("X-Forwarded-For"),
		c.Request.RemoteAddr,
		c.GetHeader("User-Agent"),
	)
}

// UserOrClientKey prefers the authenticated user id stored under ctxKey.
func UserOrClientKey(ctxKey string) KeyFunc {
	return func(c *gin.Context) string {
		if uid := strings.TrimSpace(c.GetString(ctxKey)); uid != "" {
			return "user:" + uid
		}
		return ClientKey(c)
	}
}

// Middleware rejects requests over their route limit with 429 and requests
// from new clients on a saturated route with 503. Backend errors fail open.
func Middleware(backend Backend, keyFn KeyFunc) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = ClientKey
	}

	return func(c *gin.Context) {
		res, err := backend.Hit(c.Request.Context(), c.Request.URL.Path, keyFn(c))
		if err != nil {
			log.Printf("[ratelimit] backend error, allowing request: %v", err)
			c.Next()
			return
		}

		if !res.Bypassed {
			setHeaders(c, res)
		}

		switch res.Status {
		case StatusThrottled:
			secs := retryAfterSeconds(res.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":          false,
				"error":       "rate limit exceeded",
				"retry_after": secs,
			})
			return
		case StatusOverloaded:
			secs := retryAfterSeconds(res.RetryAfter)
			log.Printf("[ratelimit] route %s at distinct client cap", res.Route)
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"ok":          false,
				"error":       "service overloaded",
				"retry_after": secs,
			})
			return
		}

		c.Next()
	}
}

// AuthFailureGuard sits in front of authentication. It refuses clients that
// have used up the route budget with failed attempts, and only responses of
// 401 or 403 are counted against that budget.
func AuthFailureGuard(backend Backend, keyFn KeyFunc) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = ClientKey
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		path := c.Request.URL.Path
		key := "authfail:" + keyFn(c)

		res, err := backend.Peek(ctx, path, key)
		if err != nil {
			log.Printf("[ratelimit] backend error, allowing request: %v", err)
			c.Next()
			return
		}
		if res.Status == StatusThrottled {
			secs := retryAfterSeconds(res.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":          false,
				"error":       "too many failed authentication attempts",
				"retry_after": secs,
			})
			return
		}

		c.Next()

		switch c.Writer.Status() {
		case http.StatusUnauthorized, http.StatusForbidden:
			if _, err := backend.Hit(ctx, path, key); err != nil {
				log.Printf("[ratelimit] record failed auth: %v", err)
			}
		}
	}
}

func setHeaders(c *gin.Context, res Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
