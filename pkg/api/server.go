// Package api exposes the workflow engine over HTTP: workflow execution and
// lifecycle endpoints, the email-approval webhooks, the correlation debug
// surface and the WebSocket observer protocol.
package api

import (
	"log/slog"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/flowforge-io/flowforge/pkg/config"
	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/events"
)

// Server holds the handlers' collaborators.
type Server struct {
	engine      *engine.Engine
	broadcaster *events.Broadcaster
	observers   *ObserverManager
	cfg         *config.Config
	logger      *slog.Logger
}

func NewServer(cfg *config.Config, eng *engine.Engine, broadcaster *events.Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	writeTimeout := cfg.Observer.WriteTimeout()
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Server{
		engine:      eng,
		broadcaster: broadcaster,
		observers:   NewObserverManager(eng, broadcaster, writeTimeout, logger),
		cfg:         cfg,
		logger:      logger,
	}
}

// Routes builds the echo instance with all endpoints registered.
func (s *Server) Routes() *echo.Echo {
	e := echo.New()
	e.Use(securityHeaders())
	e.Use(s.requestLogger())

	e.GET("/healthz", s.healthHandler)
	e.GET("/ws", s.wsHandler)

	e.POST("/api/v1/workflows/execute", s.executeWorkflowHandler)
	e.GET("/api/v1/workflows", s.listWorkflowsHandler)
	e.GET("/api/v1/workflows/:id/status", s.workflowStatusHandler)
	e.POST("/api/v1/workflows/:id/cancel", s.cancelWorkflowHandler)

	e.POST("/api/v1/messages", s.publishMessageHandler)
	e.POST("/api/v1/tasks/:elementId/complete", s.completeUserTaskHandler)
	e.POST("/api/v1/tasks/:elementId/cancel", s.cancelElementHandler)

	e.GET("/webhooks/approve/:messageRef/:correlationKey", s.webhookDecisionHandler("approved"))
	e.GET("/webhooks/deny/:messageRef/:correlationKey", s.webhookDecisionHandler("denied"))

	e.GET("/api/v1/debug/correlation", s.correlationStatsHandler)

	return e
}
