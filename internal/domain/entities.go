package domain

import (
	"fmt"
	"time"
)

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ErrorCategory string

const (
	ErrorNone           ErrorCategory = ""
	ErrorNetwork        ErrorCategory = "network"
	ErrorAuthentication ErrorCategory = "authentication"
	ErrorServer         ErrorCategory = "server"
	ErrorUnknown        ErrorCategory = "unknown"
)

// ConnectionInfo is a point-in-time copy of the connection manager's state.
type ConnectionInfo struct {
	State           ConnectionState `json:"state"`
	LastError       string          `json:"lastError,omitempty"`
	ErrorCategory   ErrorCategory   `json:"errorCategory,omitempty"`
	RetryCount      int             `json:"retryCount"`
	LastConnectedAt *time.Time      `json:"lastConnectedAtUtc,omitempty"`
	LastErrorAt     *time.Time      `json:"lastErrorAtUtc,omitempty"`
	IsOnline        bool            `json:"isOnline"`
}

// CanBid reports whether bid placement may be offered to the user. Bids sent
// over a reconnecting or failed channel can be lost silently.
func (i ConnectionInfo) CanBid() bool {
	return i.State == StateConnected
}

type StateChange struct {
	Previous ConnectionState
	Current  ConnectionState
	Info     ConnectionInfo
}

type ChannelKind int

const (
	ChannelAuction ChannelKind = iota
	ChannelBid
)

// Channels lists every channel kind in a stable order.
var Channels = []ChannelKind{ChannelAuction, ChannelBid}

func (c ChannelKind) String() string {
	switch c {
	case ChannelAuction:
		return "auction"
	case ChannelBid:
		return "bid"
	default:
		return "unknown"
	}
}

func (c ChannelKind) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChannelKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "auction":
		*c = ChannelAuction
	case "bid":
		*c = ChannelBid
	default:
		return fmt.Errorf("unknown channel %q", string(text))
	}
	return nil
}

type GroupKey struct {
	GroupName string
	Channel   ChannelKind
}

type GroupSubscription struct {
	GroupName    string      `json:"groupName"`
	Channel      ChannelKind `json:"channel"`
	SubscribedAt time.Time   `json:"subscribedAtUtc"`
}

func (s GroupSubscription) Key() GroupKey {
	return GroupKey{GroupName: s.GroupName, Channel: s.Channel}
}

func AuctionGroup(auctionID string) string {
	return "auction-" + auctionID
}

func AuctionCarGroup(auctionCarID string) string {
	return "auction-car-" + auctionCarID
}

type Bid struct {
	ID           string    `json:"bidId"`
	AuctionCarID string    `json:"auctionCarId"`
	BidderID     string    `json:"bidderId"`
	Amount       float64   `json:"amount"`
	IsPreBid     bool      `json:"isPreBid,omitempty"`
	IsProxy      bool      `json:"isProxy,omitempty"`
	PlacedAt     time.Time `json:"placedAtUtc"`
}

type BidStats struct {
	TotalBids     int     `json:"totalBids"`
	UniqueBidders int     `json:"uniqueBidders"`
	StartingPrice float64 `json:"startingPrice"`
	HighestAmount float64 `json:"highestAmount"`
}

// AuctionViewState is the state the UI renders for one auction-car session.
// Only push events from the server change it.
type AuctionViewState struct {
	AuctionID        string   `json:"auctionId"`
	AuctionCarID     string   `json:"auctionCarId"`
	RemainingSeconds int      `json:"remainingSeconds"`
	IsLive           bool     `json:"isLive"`
	CurrentPrice     float64  `json:"currentPrice"`
	MinPreBid        float64  `json:"minPreBid"`
	HighestBid       *Bid     `json:"highestBid,omitempty"`
	BidHistory       []Bid    `json:"bidHistory"`
	Stats            BidStats `json:"stats"`
	Seeded           bool     `json:"seeded"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (v AuctionViewState) Clone() AuctionViewState {
	out := v
	if v.HighestBid != nil {
		hb := *v.HighestBid
		out.HighestBid = &hb
	}
	out.BidHistory = make([]Bid, len(v.BidHistory))
	copy(out.BidHistory, v.BidHistory)
	return out
}
