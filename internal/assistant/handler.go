package assistant

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskboard/taskboard-backend/internal/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the user routes on rg and the operator routes on admin.
func (h *Handler) Register(rg *gin.RouterGroup, admin *gin.RouterGroup) {
	rg.POST("/assistant/chat", h.chat)
	rg.GET("/assistant/usage", h.usage)

	admin.DELETE("/assistant/limits", h.resetAll)
	admin.DELETE("/assistant/limits/:user_id", h.reset)
}

type chatReq struct {
	Message string `json:"message"`
}

func (h *Handler) chat(c *gin.Context) {
	userID := auth.UserFirebaseUID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
		return
	}

	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	reply, err := h.svc.Chat(c.Request.Context(), userID, req.Message)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true, "answer": reply.Answer, "usage": reply.Usage})
	case errors.Is(err, ErrRateLimited):
		secs := int(math.Ceil(h.svc.RetryAfter(userID).Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"ok":          false,
			"error":       ErrRateLimited.Error(),
			"retry_after": secs,
			"usage":       h.svc.Usage(userID),
		})
	case errors.Is(err, ErrUpstream):
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": ErrUpstream.Error()})
	case errors.Is(err, ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
	}
}

func (h *Handler) usage(c *gin.Context) {
	userID := auth.UserFirebaseUID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "usage": h.svc.Usage(userID)})
}

func (h *Handler) reset(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing user id"})
		return
	}
	h.svc.Reset(userID)
	c.JSON(http.StatusOK, gin.H{"ok": true, "user_id": userID})
}

func (h *Handler) resetAll(c *gin.Context) {
	h.svc.ResetAll()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
