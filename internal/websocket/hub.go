package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/internal/orders"
	"github.com/platewise/orderflow/internal/tracker"
	"github.com/platewise/orderflow/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Order-status pages are served from multiple hosts in development.
		return true
	},
}

// StatusUpdate is the payload pushed to status views whenever an order
// transitions.
type StatusUpdate struct {
	OrderID   string             `json:"order_id"`
	Status    models.OrderStatus `json:"status"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type client struct {
	conn    *websocket.Conn
	send    chan StatusUpdate
	tracker *tracker.Tracker // nil unless the client subscribed to one order
}

// Hub fans order-status updates out to connected status views.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan StatusUpdate
	register   chan *client
	unregister chan *client
	mutex      sync.RWMutex
	store      orders.Store // enables per-order polling for subscribed clients
	logger     *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan StatusUpdate, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
	}
}

// SetStore enables order subscriptions: a client connecting with an order_id
// query parameter gets its own poller against the store.
func (h *Hub) SetStore(store orders.Store) {
	h.store = store
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			h.mutex.Unlock()
			h.logger.WithField("client_count", h.clientCount()).Info("Status client connected")

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			h.logger.WithField("client_count", h.clientCount()).Info("Status client disconnected")

		case update := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- update:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// BroadcastStatus queues an update; a full queue drops the update rather
// than blocking the writer.
func (h *Hub) BroadcastStatus(order *models.Order) {
	update := StatusUpdate{
		OrderID:   order.ID,
		Status:    order.Status,
		UpdatedAt: order.UpdatedAt,
	}
	select {
	case h.broadcast <- update:
	default:
		h.logger.Warn("Broadcast channel full, dropping status update")
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade websocket connection")
		return
	}

	c := &client{conn: conn, send: make(chan StatusUpdate, 16)}
	if orderID := r.URL.Query().Get("order_id"); orderID != "" && h.store != nil {
		// The request context dies when this handler returns, so the poller
		// runs on its own context and is stopped by the read pump teardown.
		c.tracker = tracker.New(h.store, orderID, tracker.DefaultInterval, h.BroadcastStatus, h.logger)
		c.tracker.Start(context.Background())
	}
	h.register <- c

	go c.writePump(h)
	go c.readPump(h)
}

func (c *client) writePump(h *Hub) {
	defer c.conn.Close()
	for update := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(update); err != nil {
			h.logger.WithError(err).Debug("Websocket write failed")
			return
		}
	}
}

// readPump only watches for the peer closing; the status stream is one-way.
func (c *client) readPump(h *Hub) {
	defer func() {
		if c.tracker != nil {
			c.tracker.Stop()
		}
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) clientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
