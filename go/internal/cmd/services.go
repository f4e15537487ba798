package main

import (
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/spoker/go/internal/room/api"
	"github.com/mcdev12/spoker/go/internal/room/gateway"
	"github.com/mcdev12/spoker/go/internal/room/presence"
	"github.com/mcdev12/spoker/go/internal/room/roomsync"
	"github.com/mcdev12/spoker/go/internal/room/vote"
	"github.com/mcdev12/spoker/go/internal/store"
)

type Services struct {
	Store    *store.Store
	Votes    *vote.Controller
	Presence *presence.Tracker
	Rooms    *api.Service
	Gateway  *gateway.Service
}

func setupServices(roomStore *store.Store, config *Config) *Services {
	// Wire up dependency injection chain
	// Store → Controller/Tracker → Session deps → Gateway and RPC service
	clock := clockwork.NewRealClock()

	voteConfig := vote.DefaultConfig()
	voteConfig.StrictReveal = config.Vote.StrictReveal
	votes := vote.NewController(roomStore, clock, voteConfig)

	tracker := presence.NewTracker(roomStore)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConnectionConfig.PingInterval = config.Gateway.PingInterval
	gatewayConfig.ConnectionConfig.ReadTimeout = config.Gateway.ReadTimeout
	gatewayConfig.ConnectionConfig.WriteTimeout = config.Gateway.WriteTimeout
	gatewayConfig.ConnectionConfig.IntentTimeout = config.Gateway.IntentTimeout
	gatewayConfig.ConnectionConfig.MaxMessageSize = config.Gateway.MaxMessageSize

	roomGateway := gateway.NewService(gatewayConfig, roomStore, roomsync.Deps{
		Store:    roomStore,
		Votes:    votes,
		Presence: tracker,
		Clock:    clock,
	})

	return &Services{
		Store:    roomStore,
		Votes:    votes,
		Presence: tracker,
		Rooms:    api.NewService(votes, roomStore),
		Gateway:  roomGateway,
	}
}
