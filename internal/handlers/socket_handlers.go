package handlers

import (
	"context"
	"net/http"
	"time"

	"dinein_backend/internal/models"
	"dinein_backend/internal/realtime"
	"dinein_backend/internal/services"
	"dinein_backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// SocketHandler upgrades authenticated sessions to realtime connections.
type SocketHandler struct {
	hub          *realtime.Hub
	orderService services.OrderService
	heartbeat    time.Duration
	upgrader     websocket.Upgrader
}

// NewSocketHandler creates a SocketHandler. allowedOrigins may contain "*".
func NewSocketHandler(hub *realtime.Hub, os services.OrderService, heartbeat time.Duration, allowedOrigins []string) *SocketHandler {
	h := &SocketHandler{hub: hub, orderService: os, heartbeat: heartbeat}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Connect handles GET /ws.
func (h *SocketHandler) Connect(c *gin.Context) {
	actor := currentActor(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		utils.LogWarn("Connect: websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	client := realtime.NewClient(h.hub, conn, actor, h.heartbeat, h.authorizeOrder)
	utils.LogDebug("Realtime client connected", map[string]interface{}{"client_id": client.ID(), "role": string(actor.Role)})
	client.Serve(c.Request.Context())
	utils.LogDebug("Realtime client disconnected", map[string]interface{}{"client_id": client.ID()})
}

// authorizeOrder lets a session watch exactly the orders it may read.
func (h *SocketHandler) authorizeOrder(ctx context.Context, actor models.Actor, orderID string) error {
	_, err := h.orderService.GetOrder(ctx, actor, orderID)
	return err
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
