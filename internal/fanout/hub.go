// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

// Package fanout relays published activity events to live WebSocket
// connections. Connections belong to one of two groups: community receives
// anonymized public events, monitor receives full events and requires a
// privileged role at connect time.
package fanout

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/musclemap/pulse/internal/logging"
	"github.com/musclemap/pulse/internal/metrics"
)

// Group identifies a connection audience.
type Group string

const (
	// GroupCommunity is the public audience, optionally unauthenticated.
	GroupCommunity Group = "community"
	// GroupMonitor is the privileged audience.
	GroupMonitor Group = "monitor"
)

// Message types for WebSocket communication.
const (
	MessageTypeEvent     = "event"
	MessageTypeSnapshot  = "snapshot"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeHeartbeat = "heartbeat"
)

// Message is the envelope for every WebSocket frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// broadcastRequest targets one group.
type broadcastRequest struct {
	group   Group
	message Message
}

// ConnectionStats reports current group sizes.
type ConnectionStats struct {
	Community int `json:"community"`
	Monitor   int `json:"monitor"`
}

// Hub maintains the active connections for both groups and broadcasts
// messages to them. One hub per process; handed to the HTTP layer
// explicitly, never a package global.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcastRequest
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan broadcastRequest, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run operates the hub until ctx is cancelled, then closes every
// connection and returns ctx.Err(). Designed for suture supervision.
//
// Lifecycle events are drained before broadcasts so the client set is
// consistent when a message fans out.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case req := <-h.broadcast:
			h.broadcastToGroup(req)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.WithLabelValues(string(client.group)).Inc()
	logging.Info().
		Str("group", string(client.group)).
		Int("total_clients", total).
		Msg("Realtime client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	removed := false
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		removed = true
	}
	total := len(h.clients)
	h.mu.Unlock()

	if removed {
		metrics.WSConnections.WithLabelValues(string(client.group)).Dec()
		logging.Info().
			Str("group", string(client.group)).
			Int("total_clients", total).
			Msg("Realtime client disconnected")
	}
}

// broadcastToGroup delivers one message to every connection in the target
// group, in client-id order for reproducible delivery. Clients with a full
// send buffer are dropped.
func (h *Hub) broadcastToGroup(req broadcastRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.group == req.group {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- req.message:
			metrics.WSMessagesRelayed.WithLabelValues(string(req.group)).Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnections.WithLabelValues(string(client.group)).Dec()
		logging.Warn().
			Str("group", string(client.group)).
			Msg("Dropping slow realtime client")
	}
}

// shutdown closes every connection, in id order.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnections.WithLabelValues(string(client.group)).Dec()
	}

	logging.Info().
		Str("component", "fanout-hub").
		Int("clients_closed", len(clients)).
		Msg("Fanout hub stopped")
}

// BroadcastRaw relays already-serialized event JSON to one group verbatim.
// Anonymization happened upstream at emission; no per-connection filtering
// occurs here.
func (h *Hub) BroadcastRaw(group Group, data []byte) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		logging.Warn().Err(err).Str("group", string(group)).
			Msg("Failed to unmarshal event for broadcast")
		return
	}

	req := broadcastRequest{
		group:   group,
		message: Message{Type: MessageTypeEvent, Data: payload},
	}

	select {
	case h.broadcast <- req:
	default:
		logging.Warn().Str("group", string(group)).
			Msg("Broadcast channel full, dropping message")
	}
}

// Stats returns current group sizes for operational monitoring.
func (h *Hub) Stats() ConnectionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var stats ConnectionStats
	for client := range h.clients {
		switch client.group {
		case GroupCommunity:
			stats.Community++
		case GroupMonitor:
			stats.Monitor++
		}
	}
	return stats
}
