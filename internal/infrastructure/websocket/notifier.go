package websocket

import (
	"context"
	"encoding/json"

	"auction-sync/internal/domain"
)

// WebSocketNotifier fans group events out to clients. With a publisher the
// event goes through the relay so every hub instance delivers it; without one
// it is delivered to local rooms directly.
type WebSocketNotifier struct {
	rooms     *RoomManager
	publisher domain.EventPublisher
}

func NewWebSocketNotifier(rooms *RoomManager, publisher domain.EventPublisher) *WebSocketNotifier {
	return &WebSocketNotifier{rooms: rooms, publisher: publisher}
}

func (n *WebSocketNotifier) BroadcastToGroup(channel domain.ChannelKind, group, target string, payload interface{}) error {
	if n.publisher == nil {
		return n.rooms.BroadcastToGroup(channel, group, target, payload)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return n.publisher.PublishGroupEvent(context.Background(), &domain.GroupEvent{
		Channel: channel,
		Group:   group,
		Target:  target,
		Payload: raw,
	})
}
