package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/model"
)

// executeWorkflowHandler handles POST /api/v1/workflows/execute.
// The definition comes inline as YAML text or by name from the definitions
// directory; execution is asynchronous and the instance id comes back
// immediately.
func (s *Server) executeWorkflowHandler(c *echo.Context) error {
	var req ExecuteWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var def *model.Definition
	var err error
	switch {
	case req.Definition != "":
		def, err = model.Load([]byte(req.Definition))
	case req.Workflow != "":
		def, err = s.engine.LookupDefinition(req.Workflow)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "definition or workflow is required")
	}
	if err != nil {
		return mapEngineError(err)
	}

	inst, err := s.engine.Execute(c.Request().Context(), def, req.Context)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusAccepted, ExecuteWorkflowResponse{
		WorkflowInstanceID: inst.ID,
		WorkflowID:         def.Process.ID,
		Status:             string(engine.StatusRunning),
	})
}

// listWorkflowsHandler handles GET /api/v1/workflows.
func (s *Server) listWorkflowsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.List())
}

// workflowStatusHandler handles GET /api/v1/workflows/:id/status.
func (s *Server) workflowStatusHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow instance id is required")
	}
	st, err := s.engine.Status(id)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// cancelWorkflowHandler handles POST /api/v1/workflows/:id/cancel.
func (s *Server) cancelWorkflowHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow instance id is required")
	}
	if err := s.engine.Cancel(id); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusAccepted, AcceptedResponse{Accepted: true, Message: "cancellation requested"})
}
