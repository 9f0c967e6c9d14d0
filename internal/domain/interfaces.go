package domain

import (
	"context"
	"encoding/json"
)

// CredentialProvider returns the bearer credential for a connection attempt.
// It is called on every dial so rotated credentials are picked up.
type CredentialProvider func(ctx context.Context) (string, error)

// StaticCredential wraps a fixed token.
func StaticCredential(token string) CredentialProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Channel transport interfaces
type HubChannel interface {
	// Start dials and completes the protocol handshake.
	Start(ctx context.Context) error
	// Stop closes the channel without triggering automatic reconnection.
	Stop() error
	Invoke(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error)

	OnEvent(fn func(target string, args []json.RawMessage))
	// OnReconnecting fires when the transport lost its connection and is retrying on its own.
	OnReconnecting(fn func(err error))
	OnReconnected(fn func())
	// OnClosed fires when the transport gave up reconnecting.
	OnClosed(fn func(err error))
}

type ChannelFactory interface {
	NewChannel(kind ChannelKind, url string, credentials CredentialProvider) HubChannel
}

// Environment interfaces
type NetworkMonitor interface {
	IsOnline() bool
}

// Event interfaces
type AuctionEventHandler interface {
	OnAuctionJoined(snapshot AuctionSnapshot)
	OnAuctionStarted(event AuctionLifecycleEvent)
	OnAuctionStopped(event AuctionLifecycleEvent)
	OnAuctionEnded(event AuctionLifecycleEvent)
	OnAuctionExtended(event AuctionExtendedEvent)
	OnCarMoved(event CarMovedEvent)
	OnTimerTick(event TimerTickEvent)
	OnTimerReset(event TimerResetEvent)
	OnTimerExpired(auctionCarID string)

	OnNewLiveBid(bid Bid)
	OnPreBidPlaced(bid Bid)
	OnHighestBidUpdated(event HighestBidUpdatedEvent)
	OnPriceUpdated(event PriceUpdatedEvent)
	OnBidStatsUpdated(event BidStatsUpdatedEvent)
	OnBidError(event BidErrorEvent)
}

// NopEventHandler can be embedded to implement only the callbacks of interest.
type NopEventHandler struct{}

func (NopEventHandler) OnAuctionJoined(AuctionSnapshot) {}
func (NopEventHandler) OnAuctionStarted(AuctionLifecycleEvent) {}
func (NopEventHandler) OnAuctionStopped(AuctionLifecycleEvent) {}
func (NopEventHandler) OnAuctionEnded(AuctionLifecycleEvent) {}
func (NopEventHandler) OnAuctionExtended(AuctionExtendedEvent) {}
func (NopEventHandler) OnCarMoved(CarMovedEvent) {}
func (NopEventHandler) OnTimerTick(TimerTickEvent) {}
func (NopEventHandler) OnTimerReset(TimerResetEvent) {}
func (NopEventHandler) OnTimerExpired(string) {}
func (NopEventHandler) OnNewLiveBid(Bid) {}
func (NopEventHandler) OnPreBidPlaced(Bid) {}
func (NopEventHandler) OnHighestBidUpdated(HighestBidUpdatedEvent) {}
func (NopEventHandler) OnPriceUpdated(PriceUpdatedEvent) {}
func (NopEventHandler) OnBidStatsUpdated(BidStatsUpdatedEvent) {}
func (NopEventHandler) OnBidError(BidErrorEvent) {}

// Persistence interfaces
type EventJournal interface {
	Record(ctx context.Context, entry *JournalEntry) error
}

// Server-side fan-out, used by the hub simulator
type GroupBroadcaster interface {
	BroadcastToGroup(channel ChannelKind, group, target string, payload interface{}) error
}

type EventPublisher interface {
	PublishGroupEvent(ctx context.Context, event *GroupEvent) error
}

// GroupEvent is a push event addressed to a room, as relayed between hub instances.
type GroupEvent struct {
	Channel ChannelKind     `json:"channel"`
	Group   string          `json:"group"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}
