package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"auction-sync/internal/domain"

	"github.com/go-redis/redis/v8"
)

// EventsChannel is the pub/sub channel shared by all hub instances.
const EventsChannel = "auction_events"

type EventPublisherImpl struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(client *redis.Client) *EventPublisherImpl {
	return &EventPublisherImpl{client: client, channel: EventsChannel}
}

func (r *EventPublisherImpl) PublishGroupEvent(ctx context.Context, event *domain.GroupEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode group event: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}
