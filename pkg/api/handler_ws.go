package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to the
// ObserverManager.
func (s *Server) wsHandler(c *echo.Context) error {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.HTTP.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.HTTP.AllowedWSOrigins
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.observers.HandleConnection(c.Request().Context(), conn)
	return nil
}
