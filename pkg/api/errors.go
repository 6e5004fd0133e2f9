package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/model"
)

// mapEngineError maps engine and loader errors to HTTP error responses.
func mapEngineError(err error) *echo.HTTPError {
	var malformed *model.MalformedDefinitionError
	if errors.As(err, &malformed) {
		return echo.NewHTTPError(http.StatusBadRequest,
			"malformed definition: "+strings.Join(malformed.Problems, "; "))
	}
	if errors.Is(err, model.ErrMalformedDefinition) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, engine.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "workflow instance not found")
	}

	slog.Error("unexpected engine error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
