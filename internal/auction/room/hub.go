package room

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub maintains the ephemeral fan-out state: per-auction rooms of observing
// connections and a per-user pool for targeted notifications. Losing either
// loses only the live stream; auction state is always recoverable from the
// details read.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Connection]bool
	users map[uuid.UUID]map[*Connection]bool

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcast
}

// Connection is one WebSocket subscriber. An auction connection belongs to a
// room; a notification connection only to its user's pool.
type Connection struct {
	ID        string
	UserID    uuid.UUID
	AuctionID uuid.UUID // uuid.Nil for notification connections
	Conn      *websocket.Conn
	Send      chan []byte
	hub       *Hub

	ConnectedAt time.Time
	LastPing    time.Time
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

type broadcast struct {
	auctionID uuid.UUID
	userID    uuid.UUID // targeted delivery when non-nil
	data      []byte
}

func NewHub(config ConnectionConfig) *Hub {
	return &Hub{
		rooms: make(map[uuid.UUID]map[*Connection]bool),
		users: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcast, 1000),
	}
}

// Start processes queued deliveries until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("room hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room hub shutting down")
			return
		case msg := <-h.broadcastCh:
			h.deliver(msg)
		}
	}
}

// JoinAuction upgrades the request and subscribes the connection to the
// auction's room.
func (h *Hub) JoinAuction(w http.ResponseWriter, r *http.Request, userID, auctionID uuid.UUID) error {
	return h.join(w, r, userID, auctionID)
}

// JoinNotifications upgrades the request into the user's targeted
// notification pool, independent of any room.
func (h *Hub) JoinNotifications(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	return h.join(w, r, userID, uuid.Nil)
}

func (h *Hub) join(w http.ResponseWriter, r *http.Request, userID, auctionID uuid.UUID) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		AuctionID:   auctionID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		hub:         h,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	h.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID.String()).
		Str("auction_id", auctionID.String()).
		Msg("WebSocket connection established")
	return nil
}

func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.AuctionID != uuid.Nil {
		if h.rooms[conn.AuctionID] == nil {
			h.rooms[conn.AuctionID] = make(map[*Connection]bool)
		}
		h.rooms[conn.AuctionID][conn] = true
	}
	if h.users[conn.UserID] == nil {
		h.users[conn.UserID] = make(map[*Connection]bool)
	}
	h.users[conn.UserID][conn] = true
}

// unregister drops the connection from its room and user pool. Membership is
// advisory; no auction state changes here.
func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[conn.AuctionID]; ok {
		if room[conn] {
			delete(room, conn)
			if len(room) == 0 {
				delete(h.rooms, conn.AuctionID)
			}
		}
	}
	if pool, ok := h.users[conn.UserID]; ok {
		if pool[conn] {
			delete(pool, conn)
			close(conn.Send)
			if len(pool) == 0 {
				delete(h.users, conn.UserID)
			}
			log.Debug().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID.String()).
				Msg("connection unregistered")
		}
	}
}

// BroadcastToRoom queues data for every member of the auction's room,
// including the bidder who caused the event.
func (h *Hub) BroadcastToRoom(auctionID uuid.UUID, data []byte) {
	select {
	case h.broadcastCh <- broadcast{auctionID: auctionID, data: data}:
	default:
		log.Warn().Str("auction_id", auctionID.String()).Msg("broadcast channel full, dropping message")
	}
}

// SendToUser queues data for every connection of one user, regardless of
// room membership.
func (h *Hub) SendToUser(userID uuid.UUID, data []byte) {
	select {
	case h.broadcastCh <- broadcast{userID: userID, data: data}:
	default:
		log.Warn().Str("user_id", userID.String()).Msg("broadcast channel full, dropping user message")
	}
}

func (h *Hub) deliver(msg broadcast) {
	h.mu.RLock()
	var targets []*Connection
	if msg.userID != uuid.Nil {
		for conn := range h.users[msg.userID] {
			targets = append(targets, conn)
		}
	} else {
		for conn := range h.rooms[msg.auctionID] {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- msg.data:
		default:
			// slow or dead; drop it rather than stall the fan-out
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID.String()).
				Msg("connection send buffer full, closing connection")
			h.unregister(conn)
			conn.Conn.Close()
		}
	}
}

// Stats returns counts of active rooms and connections.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	roomCounts := make(map[string]int)
	for auctionID, room := range h.rooms {
		roomCounts[auctionID.String()] = len(room)
		total += len(room)
	}
	return map[string]interface{}{
		"active_rooms":     len(h.rooms),
		"room_connections": roomCounts,
		"users_connected":  len(h.users),
		"total_in_rooms":   total,
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		// Clients only listen on this stream; inbound frames are logged and
		// otherwise ignored.
		log.Debug().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID.String()).
			RawJSON("message", message).
			Msg("received client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
