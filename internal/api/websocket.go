package api

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tillworks/posprint/internal/store"
)

// WebSocket event types
const (
	EventJobRecorded = "job_recorded"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn *websocket.Conn
	send chan WSMessage
	hub  *wsHub
}

// wsHub tracks connected clients for broadcasts
type wsHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]bool
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*WSClient]bool)}
}

func (h *wsHub) add(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
}

func (h *wsHub) remove(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

func (h *wsHub) broadcast(msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// Client send buffer full, skip
		}
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan WSMessage, 256),
		hub:  s.hub,
	}

	s.log.Debug().Msg("websocket client connected")

	go client.readPump(s.log)
	go client.writePump()
}

func (c *WSClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// readPump exists to observe the connection closing; clients do not
// send commands, they only receive job events.
func (c *WSClient) readPump(log zerolog.Logger) {
	defer func() {
		c.hub.remove(c)
		close(c.send)
		c.conn.Close()
		log.Debug().Msg("websocket client disconnected")
	}()

	c.hub.add(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("websocket read error")
			}
			break
		}
	}
}

// BroadcastJob pushes a recorded print job to all connected clients
func (s *Server) BroadcastJob(job store.PrintJob) {
	data := map[string]any{
		"id":           job.ID,
		"user_id":      job.UserID,
		"job_type":     job.JobType,
		"order_id":     job.OrderID,
		"status":       job.Status,
		"attempted_at": job.AttemptedAt,
	}
	if job.ErrorMessage != "" {
		data["error"] = job.ErrorMessage
	}

	s.hub.broadcast(WSMessage{Event: EventJobRecorded, Data: data})
}
