package api

import (
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// publishMessageHandler handles POST /api/v1/messages: external systems
// resolve receive tasks and external service tasks through it.
func (s *Server) publishMessageHandler(c *echo.Context) error {
	var req PublishMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.MessageRef == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "messageRef is required")
	}

	delivered := s.engine.PublishMessage(req.MessageRef, req.CorrelationKey, req.Payload)
	return c.JSON(http.StatusOK, PublishMessageResponse{Delivered: delivered, Buffered: !delivered})
}

// completeUserTaskHandler handles POST /api/v1/tasks/:elementId/complete.
func (s *Server) completeUserTaskHandler(c *echo.Context) error {
	elementID := c.Param("elementId")
	if elementID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "element id is required")
	}
	var req CompleteUserTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Decision == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "decision is required")
	}

	delivered := s.engine.CompleteUserTask(elementID, req.Decision, req.Comments, req.User)
	return c.JSON(http.StatusOK, AcceptedResponse{
		Accepted: delivered,
		Message:  fmt.Sprintf("decision %q recorded for %s", req.Decision, elementID),
	})
}

// cancelElementHandler handles POST /api/v1/tasks/:elementId/cancel.
func (s *Server) cancelElementHandler(c *echo.Context) error {
	elementID := c.Param("elementId")
	if elementID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "element id is required")
	}
	var req CancelElementRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if !s.engine.CancelElement(elementID, req.Reason) {
		return echo.NewHTTPError(http.StatusConflict, "task is not in a cancellable state")
	}
	return c.JSON(http.StatusAccepted, AcceptedResponse{Accepted: true})
}

// webhookDecisionHandler serves the approval links embedded in outbound
// messages: GET /webhooks/{approve,deny}/:messageRef/:correlationKey. The
// decision is published to the correlation bus and a terminal HTML page is
// returned to the approver's browser.
func (s *Server) webhookDecisionHandler(decision string) echo.HandlerFunc {
	return func(c *echo.Context) error {
		messageRef := c.Param("messageRef")
		correlationKey := c.Param("correlationKey")
		if messageRef == "" || correlationKey == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "messageRef and correlationKey are required")
		}

		delivered := s.engine.PublishMessage(messageRef, correlationKey, map[string]any{
			"decision":  decision,
			"method":    "email",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		s.logger.Info("webhook decision received",
			"messageRef", messageRef, "correlationKey", correlationKey,
			"decision", decision, "delivered", delivered)

		return c.HTML(http.StatusOK, decisionPage(decision))
	}
}

func decisionPage(decision string) string {
	verb := "approved"
	if decision == "denied" {
		verb = "denied"
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Decision recorded</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h1>Request %s</h1>
<p>Your decision has been recorded. The workflow will continue; you can close this page.</p>
</body>
</html>`, verb)
}

// correlationStatsHandler handles GET /api/v1/debug/correlation.
func (s *Server) correlationStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Bus().Stats())
}
