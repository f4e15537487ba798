package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/spoker/go/internal/room/roomsync"
	"github.com/mcdev12/spoker/go/internal/store"
)

// Service is the room gateway: one WebSocket per client, each backed by a
// store connection and a room session.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
}

// Config holds configuration for the room gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the room gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new room gateway service. Each connection gets its
// own store.Conn from s so its disconnect hooks fire when the socket goes.
func NewService(config Config, s *store.Store, deps roomsync.Deps) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, s, deps)
	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
	}
}

// Start blocks until ctx is done, then closes every connection.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")

	<-ctx.Done()

	log.Info().Msg("room gateway service shutting down")
	return s.Stop()
}

// Stop closes all connections, running their disconnect hooks.
func (s *Service) Stop() error {
	s.connectionManager.CloseAll()
	log.Info().Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "room_gateway"
	return stats
}
