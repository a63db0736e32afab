package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/events"
	"github.com/carelink-health/carelink/internal/middleware"
	"github.com/carelink-health/carelink/internal/policy"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Session auth happens in the middleware; cross-origin browser clients
	// are expected (the web frontend is served elsewhere).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades authenticated connections and hands them to the event
// hub as peers.
type WSHandler struct {
	hub    *events.Hub
	eval   *policy.Evaluator
	auth   events.ChatAuthorizer
	logger *zap.Logger
}

func NewWSHandler(hub *events.Hub, eval *policy.Evaluator, auth events.ChatAuthorizer, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, eval: eval, auth: auth, logger: logger}
}

// Serve handles GET /v1/ws
func (h *WSHandler) Serve(c *gin.Context) {
	actor := middleware.GetActor(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := events.NewClient(h.hub, h.eval, h.auth, conn, actor, h.logger)
	client.Run(c.Request.Context())
}
