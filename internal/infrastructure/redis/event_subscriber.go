package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"auction-sync/internal/domain"
	"auction-sync/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// EventRelay delivers group events published by any hub instance to the
// rooms of this one.
type EventRelay struct {
	client      *redis.Client
	broadcaster domain.GroupBroadcaster
	log         logger.Logger
}

func NewEventRelay(client *redis.Client, broadcaster domain.GroupBroadcaster, log logger.Logger) *EventRelay {
	return &EventRelay{
		client:      client,
		broadcaster: broadcaster,
		log:         log,
	}
}

// Run blocks until ctx is done.
func (r *EventRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, EventsChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", EventsChannel, err)
	}
	ch := pubsub.Channel()

	r.log.Info("Subscribed to auction events", "channel", EventsChannel)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.Deliver(msg.Payload)

		case <-ctx.Done():
			r.log.Info("Event relay stopped")
			return ctx.Err()
		}
	}
}

// Deliver decodes one published payload and broadcasts it locally.
func (r *EventRelay) Deliver(payload string) {
	event, err := decodeGroupEvent(payload)
	if err != nil {
		r.log.Error("Failed to parse event", "payload", payload, "error", err)
		return
	}

	if err := r.broadcaster.BroadcastToGroup(event.Channel, event.Group, event.Target, event.Payload); err != nil {
		r.log.Error("Failed to relay event", "group", event.Group, "target", event.Target, "error", err)
	}
}

func decodeGroupEvent(payload string) (*domain.GroupEvent, error) {
	var event domain.GroupEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("invalid event format: %w", err)
	}
	if event.Group == "" || event.Target == "" {
		return nil, fmt.Errorf("invalid event format: missing group or target")
	}
	if len(event.Payload) == 0 {
		event.Payload = json.RawMessage("null")
	}
	return &event, nil
}
