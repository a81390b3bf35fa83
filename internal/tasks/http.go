package tasks

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskboard/taskboard-backend/internal/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/tasks", h.listTasks)
	rg.POST("/tasks", h.createTask)
	rg.GET("/tasks/:id", h.getTask)
	rg.PATCH("/tasks/:id/status", h.updateStatus)
	rg.DELETE("/tasks/:id", h.deleteTask)

	rg.GET("/projects", h.listProjects)
	rg.POST("/projects", h.createProject)
	rg.POST("/projects/:public_id/archive", h.archiveProject)

	rg.GET("/categories", h.listCategories)
	rg.POST("/categories", h.createCategory)

	rg.GET("/dashboard", h.dashboard)
}

func (h *Handler) listTasks(c *gin.Context) {
	userID := auth.UserFirebaseUID(c)
	f := Filter{ProjectID: strings.TrimSpace(c.Query("project_id"))}
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		st, err := ParseStatus(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		f.Status = st
	}

	items, err := h.svc.ListTasks(c.Request.Context(), userID, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "tasks": items})
}

func (h *Handler) getTask(c *gin.Context) {
	t, err := h.svc.GetTask(c.Request.Context(), auth.UserFirebaseUID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": t})
}

type createTaskReq struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ProjectID   *string    `json:"project_id"`
	CategoryID  *string    `json:"category_id"`
	Priority    int        `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

func (h *Handler) createTask(c *gin.Context) {
	var req createTaskReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	t, err := h.svc.CreateTask(c.Request.Context(), auth.UserFirebaseUID(c), NewTask{
		Title:       req.Title,
		Description: req.Description,
		ProjectID:   req.ProjectID,
		CategoryID:  req.CategoryID,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "task": t})
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	t, err := h.svc.UpdateTaskStatus(c.Request.Context(), auth.UserFirebaseUID(c), c.Param("id"), Status(strings.TrimSpace(req.Status)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": t})
}

func (h *Handler) deleteTask(c *gin.Context) {
	if err := h.svc.DeleteTask(c.Request.Context(), auth.UserFirebaseUID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) listProjects(c *gin.Context) {
	items, err := h.svc.ListProjects(c.Request.Context(), auth.UserFirebaseUID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "projects": items})
}

type createProjectReq struct {
	Name string `json:"name"`
}

func (h *Handler) createProject(c *gin.Context) {
	var req createProjectReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	p, err := h.svc.CreateProject(c.Request.Context(), auth.UserFirebaseUID(c), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "project": p})
}

func (h *Handler) archiveProject(c *gin.Context) {
	p, err := h.svc.ArchiveProject(c.Request.Context(), auth.UserFirebaseUID(c), c.Param("public_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": p})
}

func (h *Handler) listCategories(c *gin.Context) {
	items, err := h.svc.ListCategories(c.Request.Context(), auth.UserFirebaseUID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "categories": items})
}

type createCategoryReq struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (h *Handler) createCategory(c *gin.Context) {
	var req createCategoryReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	cat, err := h.svc.CreateCategory(c.Request.Context(), auth.UserFirebaseUID(c), req.Name, req.Color)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "category": cat})
}

func (h *Handler) dashboard(c *gin.Context) {
	d, err := h.svc.Dashboard(c.Request.Context(), auth.UserFirebaseUID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "dashboard": d})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not found"})
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
	}
}
