package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsAcceptOptions carries the origin policy for a WebSocket upgrade.
type wsAcceptOptions struct {
	allowedOrigins []string
}

// acceptWebSocket upgrades c's HTTP connection to a WebSocket. When
// opts names allowed origins, they're enforced via OriginPatterns;
// otherwise it falls back to accepting any origin, same as the
// teacher's handler_ws.go for its own un-allowlisted deployments —
// but this module lets an operator close that gap via
// ServerConfig.AllowedWSOrigins instead of hardcoding it open.
func acceptWebSocket(c *echo.Context, opts *wsAcceptOptions) (*websocket.Conn, error) {
	acceptOpts := &websocket.AcceptOptions{}
	if len(opts.allowedOrigins) > 0 {
		acceptOpts.OriginPatterns = opts.allowedOrigins
	} else {
		acceptOpts.InsecureSkipVerify = true
	}
	return websocket.Accept(c.Response(), c.Request(), acceptOpts)
}
