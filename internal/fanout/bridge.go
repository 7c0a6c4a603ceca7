// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package fanout

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/musclemap/pulse/internal/activity"
	"github.com/musclemap/pulse/internal/logging"
)

// TopicSubscriber is the message source for the bridge, satisfied by
// stream.Subscriber.
type TopicSubscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Bridge holds the process-wide subscription to both live channels and
// relays every message verbatim to the matching connection group.
type Bridge struct {
	subscriber TopicSubscriber
	hub        *Hub
}

// NewBridge creates a bridge. subscriber may be nil when pub/sub is
// unavailable; Run then degrades to a no-op and fanout is snapshot-only.
func NewBridge(subscriber TopicSubscriber, hub *Hub) *Bridge {
	return &Bridge{subscriber: subscriber, hub: hub}
}

// Run relays messages until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if b.subscriber == nil {
		logging.Warn().Msg("Pub/sub unavailable, fanout degraded to snapshot-only")
		<-ctx.Done()
		return ctx.Err()
	}

	communityMsgs, err := b.subscriber.Subscribe(ctx, activity.TopicCommunity)
	if err != nil {
		logging.Error().Err(err).Msg("Community channel subscription failed, fanout degraded to snapshot-only")
		<-ctx.Done()
		return ctx.Err()
	}
	monitorMsgs, err := b.subscriber.Subscribe(ctx, activity.TopicMonitor)
	if err != nil {
		logging.Error().Err(err).Msg("Monitor channel subscription failed, fanout degraded to snapshot-only")
		<-ctx.Done()
		return ctx.Err()
	}

	logging.Info().Msg("Fanout bridge started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.relay(ctx, GroupCommunity, communityMsgs)
	}()
	go func() {
		defer wg.Done()
		b.relay(ctx, GroupMonitor, monitorMsgs)
	}()
	wg.Wait()

	return ctx.Err()
}

// relay forwards one topic's messages to one group. Messages are always
// acked: a failed local broadcast is not worth a broker redelivery.
func (b *Bridge) relay(ctx context.Context, group Group, messages <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.hub.BroadcastRaw(group, msg.Payload)
			msg.Ack()
		}
	}
}
