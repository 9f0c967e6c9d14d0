package main

import (
	"context"
	"sync"
	"time"

	"auction-sync/internal/domain"
	"auction-sync/internal/services"
	"auction-sync/pkg/logger"
)

// sessionHandler logs push events and follows the auction from car to car.
type sessionHandler struct {
	domain.NopEventHandler

	manager *services.ConnectionManager
	timeout time.Duration
	log     logger.Logger

	mu        sync.Mutex
	following string
}

func (h *sessionHandler) OnAuctionJoined(snapshot domain.AuctionSnapshot) {
	h.log.Info("Joined auction",
		"auction_id", snapshot.AuctionID,
		"auction_car_id", snapshot.AuctionCarID,
		"is_live", snapshot.IsLive,
		"current_price", snapshot.CurrentPrice,
		"remaining_seconds", snapshot.RemainingSeconds)
	if previous, ok := h.follow(snapshot.AuctionCarID); ok {
		h.switchCar(previous, snapshot.AuctionCarID)
	}
}

func (h *sessionHandler) OnAuctionStarted(event domain.AuctionLifecycleEvent) {
	h.log.Info("Auction started", "auction_id", event.AuctionID, "auction_car_id", event.AuctionCarID)
}

func (h *sessionHandler) OnAuctionStopped(event domain.AuctionLifecycleEvent) {
	h.log.Info("Auction stopped", "auction_id", event.AuctionID, "reason", event.Reason)
}

func (h *sessionHandler) OnAuctionEnded(event domain.AuctionLifecycleEvent) {
	h.log.Info("Auction ended", "auction_id", event.AuctionID, "last_car_id", event.AuctionCarID)
}

func (h *sessionHandler) OnTimerReset(event domain.TimerResetEvent) {
	h.log.Info("Timer reset", "auction_car_id", event.AuctionCarID, "remaining_seconds", event.RemainingSeconds, "reason", event.Reason)
}

func (h *sessionHandler) OnTimerExpired(auctionCarID string) {
	h.log.Info("Timer expired", "auction_car_id", auctionCarID)
}

func (h *sessionHandler) OnNewLiveBid(bid domain.Bid) {
	h.log.Info("New live bid", "auction_car_id", bid.AuctionCarID, "bidder_id", bid.BidderID, "amount", bid.Amount, "proxy", bid.IsProxy)
}

func (h *sessionHandler) OnPreBidPlaced(bid domain.Bid) {
	h.log.Info("Pre-bid placed", "auction_car_id", bid.AuctionCarID, "bidder_id", bid.BidderID, "amount", bid.Amount)
}

func (h *sessionHandler) OnPriceUpdated(event domain.PriceUpdatedEvent) {
	h.log.Debug("Price updated", "auction_car_id", event.AuctionCarID, "current_price", event.CurrentPrice)
}

func (h *sessionHandler) OnBidError(event domain.BidErrorEvent) {
	h.log.Warn("Bid rejected by server",
		"auction_car_id", event.AuctionCarID,
		"code", event.Code,
		"message", event.Message,
		"suggested_amount", event.SuggestedAmount)
}

func (h *sessionHandler) OnCarMoved(event domain.CarMovedEvent) {
	h.log.Info("Car moved", "previous", event.PreviousAuctionCarID, "next", event.NextAuctionCarID)
	if previous, ok := h.follow(event.NextAuctionCarID); ok {
		h.switchCar(previous, event.NextAuctionCarID)
	}
}

// follow records next as the followed car. It reports the car to leave and
// false when next is empty or already followed, since every car room join
// pushes another snapshot.
func (h *sessionHandler) follow(next string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if next == "" || next == h.following {
		return "", false
	}
	previous := h.following
	h.following = next
	return previous, true
}

// unfollow forgets car if it is still the followed one, so a later snapshot retries the join.
func (h *sessionHandler) unfollow(car string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.following == car {
		h.following = ""
	}
}

// switchCar moves the car room subscriptions. It runs off the event goroutine
// so later events are not held up by the remote calls.
func (h *sessionHandler) switchCar(previous, next string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		for _, channel := range domain.Channels {
			if previous != "" {
				if err := h.manager.LeaveGroup(ctx, domain.AuctionCarGroup(previous), channel); err != nil {
					h.log.Warn("Failed to leave car group", "channel", channel.String(), "error", err)
				}
			}
			if err := h.manager.JoinGroup(ctx, domain.AuctionCarGroup(next), channel); err != nil {
				h.log.Warn("Failed to join car group", "channel", channel.String(), "error", err)
				h.unfollow(next)
			}
		}
	}()
}
