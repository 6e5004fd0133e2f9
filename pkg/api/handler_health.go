package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/flowforge-io/flowforge/pkg/version"
)

// healthHandler handles GET /healthz. The engine has no external hard
// dependencies to probe; the response is a liveness signal plus basic
// telemetry.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   version.Full(),
		Observers: s.broadcaster.ObserverCount(),
		Instances: len(s.engine.List()),
	})
}
