package notify

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/agrimarket/auction-api/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the marketplace frontend origin
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GinHandlers contains HTTP handlers for the live-viewer channel
type GinHandlers struct {
	hub *Hub
}

// NewGinHandlers creates handlers bound to the given hub
func NewGinHandlers(hub *Hub) *GinHandlers {
	return &GinHandlers{hub: hub}
}

// SubscribeHandler upgrades the request to a WebSocket and joins the caller
// to the sale's event channel until disconnect
func (h *GinHandlers) SubscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		saleID := c.Param("sale_id")
		if saleID == "" {
			response.BadRequest(c, "Sale ID is required")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			SaleID: saleID,
			Conn:   conn,
			Send:   make(chan []byte, 256),
		}

		h.hub.Register(client)

		go client.writePump()
		client.readPump(h.hub)
	}
}

// StatsHandler reports the number of live viewers of a sale
func (h *GinHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		saleID := c.Param("sale_id")
		response.Success(c, gin.H{
			"sale_id":     saleID,
			"subscribers": h.hub.SubscriberCount(saleID),
		})
	}
}
