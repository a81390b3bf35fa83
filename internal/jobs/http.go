package jobs

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskboard/taskboard-backend/internal/auth"
)

type Handler struct {
	runner *Runner
}

func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

// RegisterRoutes mounts GET and POST /:job on rg (normally /api/cron).
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:job", h.trigger)
	rg.POST("/:job", h.trigger)
}

func (h *Handler) trigger(c *gin.Context) {
	name := c.Param("job")
	credential := auth.BearerToken(c.GetHeader("Authorization"))

	var opts Options
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
			return
		}
	}
	if v := c.Query("dry_run"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.DryRun = opts.DryRun || b
		}
	}

	summary, err := h.runner.Run(c.Request.Context(), name, credential, opts)
	if err != nil {
		status := statusFor(err)
		body := gin.H{
			"ok":        false,
			"error":     err.Error(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if errors.Is(err, ErrUnauthorized) {
			body["error"] = "unauthorized"
		}
		if summary != nil {
			body["summary"] = summary
		}
		c.JSON(status, body)
		return
	}

	status := http.StatusOK
	if summary.Status == StatusPartiallyFailed {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"ok": summary.Status == StatusCompleted, "summary": summary})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, ErrMissingSecret), errors.Is(err, ErrNotProduction):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
