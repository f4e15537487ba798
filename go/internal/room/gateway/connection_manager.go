package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/spoker/go/internal/models"
	"github.com/mcdev12/spoker/go/internal/room/roomsync"
	"github.com/mcdev12/spoker/go/internal/store"
)

// ConnectionManager manages WebSocket connections grouped by room
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	store *store.Store
	deps  roomsync.Deps
}

// Connection is one client socket with its own store connection and
// room session.
type Connection struct {
	ID      string
	UserID  string
	RoomID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	storeConn *store.Conn
	session   *roomsync.Session
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	IntentTimeout   time.Duration // per intent store round trip
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	Session         roomsync.Config
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		IntentTimeout:   5 * time.Second,
		MaxMessageSize:  8 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		Session:         roomsync.DefaultConfig(),
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, s *store.Store, deps roomsync.Deps) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		store:  s,
		deps:   deps,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts
// the room session behind it.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID, roomID string) error {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	storeConn := cm.store.Connect()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		RoomID:      roomID,
		Conn:        ws,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		storeConn:   storeConn,
		session:     roomsync.New(roomID, userID, storeConn, cm.deps, cm.config.Session),
		ctx:         ctx,
		cancel:      cancel,
		ConnectedAt: cm.deps.Clock.Now(),
	}

	cm.registerConnection(c)

	if err := c.session.Start(ctx); err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Str("room_id", roomID).Msg("failed to start room session")
		c.close()
		ws.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "room unavailable"))
		ws.Close()
		return nil
	}

	go c.writePump()
	go c.readPump()
	go c.forwardUpdates()

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", userID).
		Str("room_id", roomID).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[c.RoomID] == nil {
		cm.roomConnections[c.RoomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[c.RoomID][c] = true

	log.Debug().
		Str("connection_id", c.ID).
		Str("room_id", c.RoomID).
		Int("total_connections", len(cm.roomConnections[c.RoomID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.roomConnections[c.RoomID]; exists {
		if _, exists := connections[c]; exists {
			delete(connections, c)
			if len(connections) == 0 {
				delete(cm.roomConnections, c.RoomID)
			}
			log.Info().
				Str("connection_id", c.ID).
				Str("user_id", c.UserID).
				Str("room_id", c.RoomID).
				Msg("connection unregistered")
		}
	}
}

// CloseAll ends every connection, running their disconnect hooks.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.roomConnections {
		for c := range connections {
			all = append(all, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	totalConnections := 0
	roomCounts := make(map[string]int)
	for roomID, connections := range cm.roomConnections {
		totalConnections += len(connections)
		roomCounts[roomID] = len(connections)
	}

	return map[string]interface{}{
		"total_connections": totalConnections,
		"active_rooms":      len(cm.roomConnections),
		"room_connections":  roomCounts,
	}
}

// close tears the connection down once. The session stops and the store
// connection runs its disconnect hooks; the write pump closes the socket.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.session.Close()
		c.Manager.unregisterConnection(c)

		ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.IntentTimeout)
		defer cancel()
		if err := c.storeConn.Disconnect(ctx); err != nil {
			log.Error().Err(err).Str("connection_id", c.ID).Msg("disconnect hooks failed")
		}
	})
}

// enqueue hands data to the write pump unless the connection is closing.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case c.Send <- data:
		return true
	case <-c.ctx.Done():
		return false
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Msg("connection send buffer full, closing connection")
		go c.close()
		return false
	}
}

func (c *Connection) sendEvent(eventType EventType, payload any) {
	event := RoomEvent{
		ID:        uuid.New().String(),
		RoomID:    c.RoomID,
		Type:      eventType,
		Timestamp: c.Manager.deps.Clock.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event payload")
			return
		}
		event.Data = data
	}
	eventData, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	c.enqueue(eventData)
}

// forwardUpdates relays session updates to the client. A missing room
// ends the connection.
func (c *Connection) forwardUpdates() {
	for u := range c.session.Updates() {
		switch {
		case u.Snapshot != nil:
			c.sendEvent(EventTypeSnapshot, SnapshotPayload{
				Revision: u.Snapshot.Revision,
				Room:     u.Snapshot.Room.Public(),
				Tally:    u.Snapshot.Tally,
				Glyphs:   u.Snapshot.Room.Config.HideLabel.Glyphs(),
			})
		case u.Disconnected:
			c.sendEvent(EventTypeDisconnected, nil)
		case u.Missing:
			c.sendEvent(EventTypeRoomMissing, ErrorPayload{Code: "not_found", Message: models.ErrRoomNotFound.Error()})
		}
	}
	if c.session.Err() != nil {
		c.close()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// flush writes whatever is still queued without waiting for more.
func (c *Connection) flush() {
	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump handles reading intents from the WebSocket connection
func (c *Connection) readPump() {
	defer c.close()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage runs one intent and answers with an ack or error.
func (c *Connection) handleClientMessage(message []byte) {
	in, err := decodeIntent(message)
	if err == nil {
		ctx, cancel := context.WithTimeout(c.ctx, c.Manager.config.IntentTimeout)
		var ack AckPayload
		ack, err = dispatch(ctx, c.session, in)
		cancel()
		if err == nil {
			c.sendEvent(EventTypeAck, ack)
			return
		}
	}

	log.Debug().
		Err(err).
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Str("intent", in.Type).
		Msg("intent rejected")
	c.sendEvent(EventTypeError, ErrorPayload{RequestID: in.RequestID, Code: errorCode(err), Message: err.Error()})
}
