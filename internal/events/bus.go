// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Topics published on the Bus.
const (
	// TopicInitialSyncComplete fires once per process lifetime, when the
	// first full synchronization pass lands. Edge-triggered: subscribers
	// that attach late must diff against the bounds cache instead.
	TopicInitialSyncComplete = "sync.initial_complete"

	// TopicActivitiesSynced fires after every persisted sync batch,
	// including batches recovered from a checkpoint. Level-triggered.
	TopicActivitiesSynced = "sync.activities_synced"
)

// InitialSyncComplete is the payload for TopicInitialSyncComplete.
type InitialSyncComplete struct {
	ActivityIDs []string  `json:"activityIds"`
	SyncedAt    time.Time `json:"syncedAt"`
}

// ActivitiesSynced is the payload for TopicActivitiesSynced. ActivityIDs
// holds only the IDs added or refreshed by the batch that triggered it.
type ActivitiesSynced struct {
	ActivityIDs []string  `json:"activityIds"`
	SyncedAt    time.Time `json:"syncedAt"`
	Resumed     bool      `json:"resumed,omitempty"`
}

// Bus is the in-process event channel between the sync engine and the
// route processor. Messages are fanned out to every subscriber of a
// topic; there is no persistence and no cross-process delivery.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

// NewBus creates an in-memory Pub/Sub bus. bufferSize bounds how many
// unconsumed messages a slow subscriber can hold before publishers block.
func NewBus(bufferSize int64) *Bus {
	logger := NewWatermillLogger()
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            bufferSize,
			BlockPublishUntilSubscriberAck: false,
		}, logger),
		logger: logger,
	}
}

// Publish marshals payload and sends it to topic. Returns once every
// current subscriber's buffer accepted the message.
func (b *Bus) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	msg := message.NewMessage(uuid.NewString(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of raw messages for topic. The channel is
// closed when ctx is canceled or the bus shuts down. Callers must Ack or
// Nack every message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return ch, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Consume subscribes to topic, decodes each message into T and invokes
// handler until ctx is canceled. Decode failures are acked and logged so
// one malformed message cannot wedge the subscription; handler errors
// are logged and the message acked, because these events are
// notifications, not work items to be redelivered.
func Consume[T any](ctx context.Context, bus *Bus, topic string, handler func(context.Context, T) error) error {
	ch, err := bus.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range ch {
			var payload T
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				bus.logger.Error("drop undecodable event", err, watermill.LogFields{
					"topic":       topic,
					"message_id":  msg.UUID,
					"payload_len": len(msg.Payload),
				})
				msg.Ack()
				continue
			}
			if err := handler(ctx, payload); err != nil {
				bus.logger.Error("event handler failed", err, watermill.LogFields{
					"topic":      topic,
					"message_id": msg.UUID,
				})
			}
			msg.Ack()
		}
	}()
	return nil
}
