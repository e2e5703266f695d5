package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub manages all live-viewer WebSocket connections, grouped per sale.
// It implements Notifier; events published while nobody watches a sale are
// simply dropped.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Client]bool // saleID -> clients

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
}

// Client represents one live viewer of a sale
type Client struct {
	ID     string
	SaleID string
	Conn   *websocket.Conn
	Send   chan []byte

	closeOnce sync.Once
}

type broadcastMessage struct {
	saleID  string
	payload []byte
}

// NewHub creates a hub; call Run in a goroutine before registering clients
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *broadcastMessage, 256),
	}
}

// Run is the hub's main loop. All subscriber-map mutations happen here.
func (h *Hub) Run(ctx context.Context) {
	logger := log.With().Str("component", "notify_hub").Logger()
	logger.Info().Msg("starting notification hub")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down notification hub")
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.broadcastToSale(msg.saleID, msg.payload)
		}
	}
}

// Register adds a client to its sale's channel
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client and closes its connection
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// NewBid implements Notifier
func (h *Hub) NewBid(event NewBidEvent) {
	h.publish(event.SaleID, EventNewBid, event)
}

// AuctionEnded implements Notifier
func (h *Hub) AuctionEnded(event AuctionEndedEvent) {
	h.publish(event.SaleID, EventAuctionEnded, event)
}

// SubscriberCount returns the number of live viewers of a sale
func (h *Hub) SubscriberCount(saleID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[saleID])
}

func (h *Hub) publish(saleID, eventType string, data interface{}) {
	payload, err := json.Marshal(Envelope{Type: eventType, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event")
		return
	}
	h.broadcast <- &broadcastMessage{saleID: saleID, payload: payload}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.subscribers[client.SaleID]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscribers[client.SaleID] = clients
	}
	clients[client] = true

	log.Debug().
		Str("client_id", client.ID).
		Str("sale_id", client.SaleID).
		Msg("client subscribed")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(client)
}

func (h *Hub) dropLocked(client *Client) {
	if clients, ok := h.subscribers[client.SaleID]; ok {
		if _, subscribed := clients[client]; subscribed {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subscribers, client.SaleID)
			}
			client.close()
		}
	}
}

func (h *Hub) broadcastToSale(saleID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.subscribers[saleID] {
		select {
		case client.Send <- payload:
		default:
			// Client's send buffer is full, disconnect them so one slow
			// viewer can't block the rest
			h.dropLocked(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.subscribers {
		for client := range clients {
			client.close()
		}
	}
	h.subscribers = make(map[string]map[*Client]bool)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// writePump pumps messages from the Send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		if c.Conn != nil {
			c.Conn.Close()
		}
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// Ping to keep the connection alive
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client messages until disconnect, then unregisters
func (c *Client) readPump(hub *Hub) {
	defer hub.Unregister(c)

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("websocket read error")
			}
			return
		}
	}
}
