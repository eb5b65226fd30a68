package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vertexmcp/vertexmcp/internal/domain/service"
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/monitoring"
	"github.com/vertexmcp/vertexmcp/internal/interfaces/stdio"
)

// Config tunes the HTTP listener.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// Server is the secondary HTTP interface. It mirrors the byte-stream
// protocol's operations as REST routes plus a websocket endpoint.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds the router and listener.
func NewServer(cfg Config, svc stdio.Service, monitor *monitoring.Monitor, logger *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	h := &handlers{svc: svc, logger: logger}
	setupRoutes(router, h, monitor)

	return &Server{
		server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
		},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Stop drains connections and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, h *handlers, monitor *monitoring.Monitor) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})
	if monitor != nil {
		router.GET("/metrics", gin.WrapH(monitor.PrometheusHandler()))
		router.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, monitor.GetStats())
		})
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/query", h.Query)
		v1.POST("/search", h.Search)
		v1.POST("/fetch", h.Fetch)
		v1.GET("/tools", h.Tools)
		v1.POST("/sessions", h.CreateSession)
	}

	router.GET("/ws", h.WebSocket)
}

// handlers adapts the application service to gin.
type handlers struct {
	svc    stdio.Service
	logger *zap.Logger
}

type queryRequest struct {
	Prompt    string         `json:"prompt" binding:"required"`
	SessionID string         `json:"sessionId"`
	Parts     []service.Part `json:"parts"`
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
}

type fetchRequest struct {
	ID string `json:"id" binding:"required"`
}

// contentResponse mirrors the byte-stream protocol's response shape.
func contentResponse(text string) gin.H {
	return gin.H{"content": []gin.H{{"type": "text", "text": text}}}
}

func errorResponse(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{
		"content": []gin.H{{"type": "text", "text": err.Error()}},
		"isError": true,
	})
}

func (h *handlers) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	answer, err := h.svc.Query(c.Request.Context(), req.Prompt, req.SessionID, req.Parts)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, contentResponse(answer))
}

func (h *handlers) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	results, err := h.svc.Search(c.Request.Context(), req.Query)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, contentResponse(results))
}

func (h *handlers) Fetch(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	doc, err := h.svc.FetchDoc(req.ID)
	if err != nil {
		errorResponse(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, contentResponse(doc))
}

func (h *handlers) Tools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.svc.ListTools()})
}

// SessionCreator is implemented by services that support conversations.
type SessionCreator interface {
	CreateSession() (string, error)
}

func (h *handlers) CreateSession(c *gin.Context) {
	creator, ok := h.svc.(SessionCreator)
	if !ok {
		errorResponse(c, http.StatusNotImplemented, fmt.Errorf("sessions are not supported"))
		return
	}
	id, err := creator.CreateSession()
	if err != nil {
		errorResponse(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id})
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
