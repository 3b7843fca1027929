package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atelierhq/loom/internal/core"
	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

// Server exposes the control surface over HTTP: workflow registration and
// triggering, execution status, rate limit overrides, cache invalidation,
// metrics, and health.
type Server struct {
	manager *core.Manager
	logger  *slog.Logger
	router  *gin.Engine
}

func NewServer(manager *core.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		manager: manager,
		logger:  logger.With("component", "admin-api"),
		router:  router,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", s.metrics)

	s.router.POST("/workflows", s.registerWorkflow)
	s.router.POST("/workflows/:id/trigger", s.triggerWorkflow)
	s.router.GET("/executions/:id", s.executionStatus)
	s.router.POST("/executions/:id/cancel", s.cancelExecution)

	s.router.PUT("/rate-limits/:key", s.setRateLimit)
	s.router.GET("/rate-limits/:key", s.rateLimitStatus)

	s.router.POST("/invalidate", s.invalidate)
	s.router.GET("/invalidation/rules", s.listRules)
	s.router.POST("/invalidation/rules", s.addRule)
	s.router.DELETE("/invalidation/rules/:name", s.removeRule)
}

// Handler lets callers mount the API in their own http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(addr string) error {
	s.logger.Info("admin api listening", "addr", addr)
	return s.router.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	h := s.manager.Health()
	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (s *Server) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Metrics())
}

func (s *Server) registerWorkflow(c *gin.Context) {
	var def domain.WorkflowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.manager.RegisterWorkflow(def); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"workflow_id": def.ID})
}

func (s *Server) triggerWorkflow(c *gin.Context) {
	var payload map[string]any
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	executionID, err := s.manager.TriggerWorkflow(c.Param("id"), payload)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": executionID})
}

func (s *Server) executionStatus(c *gin.Context) {
	snap, err := s.manager.GetStatus(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cancelExecution(c *gin.Context) {
	if err := s.manager.CancelExecution(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancelled": c.Param("id")})
}

func (s *Server) setRateLimit(c *gin.Context) {
	var rule ports.RateLimitRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := c.Param("key")
	s.manager.SetRateLimit(key, rule)
	c.JSON(http.StatusOK, gin.H{"key": key})
}

func (s *Server) rateLimitStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.RateLimitStatus(c.Param("key")))
}

type invalidateRequest struct {
	Trigger string         `json:"trigger" binding:"required"`
	Context map[string]any `json:"context"`
}

func (s *Server) invalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	report := s.manager.Invalidate(ctx, req.Trigger, req.Context)
	c.JSON(http.StatusOK, report)
}

func (s *Server) listRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.manager.InvalidationRules()})
}

func (s *Server) addRule(c *gin.Context) {
	var rule ports.InvalidationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.manager.AddInvalidationRule(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rule": rule.Name})
}

func (s *Server) removeRule(c *gin.Context) {
	s.manager.RemoveInvalidationRule(c.Param("name"))
	c.Status(http.StatusNoContent)
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case domain.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
