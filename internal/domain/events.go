package domain

import "time"

// EventKind is the wire name of a server push event.
type EventKind string

const (
	EventJoinedAuction    EventKind = "JoinedAuction"
	EventJoinedAuctionCar EventKind = "JoinedAuctionCar"
	EventAuctionStarted   EventKind = "AuctionStarted"
	EventAuctionStopped   EventKind = "AuctionStopped"
	EventAuctionEnded     EventKind = "AuctionEnded"
	EventAuctionExtended  EventKind = "AuctionExtended"
	EventCarMoved         EventKind = "CarMoved"
	EventTimerTick        EventKind = "TimerTick"
	EventTimerReset       EventKind = "TimerReset"

	EventNewLiveBid        EventKind = "NewLiveBid"
	EventPreBidPlaced      EventKind = "PreBidPlaced"
	EventHighestBidUpdated EventKind = "HighestBidUpdated"
	EventPriceUpdated      EventKind = "PriceUpdated"
	EventBidStatsUpdated   EventKind = "BidStatsUpdated"
	EventBidError          EventKind = "BidError"
)

// Channel returns the channel a well-known event is delivered on.
func (k EventKind) Channel() (ChannelKind, bool) {
	switch k {
	case EventJoinedAuction, EventJoinedAuctionCar, EventAuctionStarted, EventAuctionStopped,
		EventAuctionEnded, EventAuctionExtended, EventCarMoved, EventTimerTick, EventTimerReset:
		return ChannelAuction, true
	case EventNewLiveBid, EventPreBidPlaced, EventHighestBidUpdated, EventPriceUpdated,
		EventBidStatsUpdated, EventBidError:
		return ChannelBid, true
	default:
		return 0, false
	}
}

// Remote procedures invoked on the channels.
const (
	MethodJoinGroup      = "JoinGroup"
	MethodLeaveGroup     = "LeaveGroup"
	MethodPing           = "Ping"
	MethodPlaceLiveBid   = "PlaceLiveBid"
	MethodPlacePreBid    = "PlacePreBid"
	MethodPlaceProxyBid  = "PlaceProxyBid"
	MethodCancelProxyBid = "CancelProxyBid"
)

// AuctionSnapshot seeds the view-state when a room is joined.
type AuctionSnapshot struct {
	AuctionID        string   `json:"auctionId"`
	AuctionCarID     string   `json:"auctionCarId,omitempty"`
	IsLive           bool     `json:"isLive"`
	RemainingSeconds int      `json:"remainingSeconds"`
	CurrentPrice     float64  `json:"currentPrice"`
	MinPreBid        float64  `json:"minPreBid"`
	HighestBid       *Bid     `json:"highestBid,omitempty"`
	RecentBids       []Bid    `json:"recentBids,omitempty"`
	Stats            BidStats `json:"stats"`
}

type AuctionLifecycleEvent struct {
	AuctionID    string    `json:"auctionId"`
	AuctionCarID string    `json:"auctionCarId,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurredAtUtc"`
}

type AuctionExtendedEvent struct {
	AuctionID         string `json:"auctionId"`
	AuctionCarID      string `json:"auctionCarId"`
	ExtendedBySeconds int    `json:"extendedBySeconds"`
	RemainingSeconds  int    `json:"remainingSeconds"`
}

type CarMovedEvent struct {
	AuctionID            string `json:"auctionId"`
	PreviousAuctionCarID string `json:"previousAuctionCarId"`
	NextAuctionCarID     string `json:"nextAuctionCarId"`
}

type TimerTickEvent struct {
	AuctionCarID     string `json:"auctionCarId"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

type TimerResetEvent struct {
	AuctionCarID     string `json:"auctionCarId"`
	RemainingSeconds int    `json:"remainingSeconds"`
	Reason           string `json:"reason,omitempty"`
}

type HighestBidUpdatedEvent struct {
	AuctionCarID string `json:"auctionCarId"`
	Bid          Bid    `json:"bid"`
}

type PriceUpdatedEvent struct {
	AuctionCarID   string  `json:"auctionCarId"`
	CurrentPrice   float64 `json:"currentPrice"`
	MinimumNextBid float64 `json:"minimumNextBid,omitempty"`
}

type BidStatsUpdatedEvent struct {
	AuctionCarID string   `json:"auctionCarId"`
	Stats        BidStats `json:"stats"`
}

type BidErrorEvent struct {
	AuctionCarID    string  `json:"auctionCarId"`
	Code            string  `json:"code"`
	Message         string  `json:"message"`
	SuggestedAmount float64 `json:"suggestedAmount,omitempty"`
}

// LiveBidRequest is the payload of PlaceLiveBid and PlacePreBid.
type LiveBidRequest struct {
	AuctionCarID string  `json:"auctionCarId"`
	Amount       float64 `json:"amount"`
}

type ProxyBidRequest struct {
	AuctionCarID    string  `json:"auctionCarId"`
	MaxAmount       float64 `json:"maxAmount"`
	IncrementAmount float64 `json:"incrementAmount"`
}

type CancelProxyBidRequest struct {
	AuctionCarID string `json:"auctionCarId"`
}

// JournalEntry is one inbound push event as recorded by an EventJournal.
type JournalEntry struct {
	SessionID    string
	Channel      ChannelKind
	Kind         EventKind
	AuctionCarID string
	Amount       float64
	Payload      []byte
	ReceivedAt   time.Time
}
