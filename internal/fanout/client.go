// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package fanout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/musclemap/pulse/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// Inbound frames per second per connection. Heartbeats arrive at most
	// every few seconds; anything faster is a misbehaving client.
	inboundRate  = 2
	inboundBurst = 5
)

// clientIDCounter assigns monotonically increasing ids so broadcast and
// shutdown iterate clients in a stable order.
var clientIDCounter atomic.Uint64

// HeartbeatFunc refreshes a user's presence from a live-socket heartbeat.
type HeartbeatFunc func(ctx context.Context, userID string)

// Client is the middleman between one WebSocket connection and the hub.
type Client struct {
	id    uint64
	hub   *Hub
	conn  *websocket.Conn
	send  chan Message
	group Group

	// userID is set for authenticated connections; empty for anonymous
	// community viewers.
	userID      string
	onHeartbeat HeartbeatFunc
	limiter     *rate.Limiter
}

// NewClient creates a client in the given group. onHeartbeat may be nil;
// inbound heartbeats are then acknowledged but refresh nothing.
func NewClient(hub *Hub, conn *websocket.Conn, group Group, userID string, onHeartbeat HeartbeatFunc) *Client {
	return &Client{
		id:          clientIDCounter.Add(1),
		hub:         hub,
		conn:        conn,
		send:        make(chan Message, 256),
		group:       group,
		userID:      userID,
		onHeartbeat: onHeartbeat,
		limiter:     rate.NewLimiter(inboundRate, inboundBurst),
	}
}

// Send queues one message for the client, dropping it if the buffer is
// full. Used for the connect-time snapshot before the pumps start.
func (c *Client) Send(msg Message) {
	select {
	case c.send <- msg:
	default:
		logging.Warn().Str("group", string(c.group)).
			Msg("Client send buffer full, dropping message")
	}
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump consumes inbound frames until close or transport error, then
// unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("Unexpected websocket close error")
			}
			break
		}

		if !c.limiter.Allow() {
			logging.Warn().Str("group", string(c.group)).
				Msg("Inbound message rate exceeded, ignoring frame")
			continue
		}

		switch msg.Type {
		case MessageTypePing:
			c.Send(Message{Type: MessageTypePong})
		case MessageTypeHeartbeat:
			if c.onHeartbeat != nil && c.userID != "" {
				c.onHeartbeat(context.Background(), c.userID)
			}
		}
	}
}

// writePump delivers queued messages and keeps the connection alive with
// periodic pings. The ticker is stopped on every exit path.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				// Hub closed the channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("Failed to write close message")
				}
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("Failed to write JSON message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("Failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
