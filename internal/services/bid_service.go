package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"auction-sync/internal/bidding"
	"auction-sync/internal/domain"
	"auction-sync/internal/instrumentation"
	"auction-sync/pkg/logger"
)

// BidGateway is the part of the connection manager bid placement needs.
type BidGateway interface {
	Info() domain.ConnectionInfo
	View() domain.AuctionViewState
	Invoke(ctx context.Context, channel domain.ChannelKind, method string, args ...interface{}) (json.RawMessage, error)
}

// BidRejectedError is a bid refused by local validation before it was sent.
type BidRejectedError struct {
	Reason          bidding.Reason
	Message         string
	SuggestedAmount float64
}

func (e *BidRejectedError) Error() string {
	return fmt.Sprintf("bid rejected (%s): %s", e.Reason, e.Message)
}

// BidService sends bids over the bid channel. A nil error means the request
// was delivered; acceptance is only ever signalled by a server push event.
type BidService struct {
	gateway BidGateway
	engine  *bidding.Engine
	metrics *instrumentation.Metrics
	log     logger.Logger
}

func NewBidService(gateway BidGateway, engine *bidding.Engine, metrics *instrumentation.Metrics, log logger.Logger) *BidService {
	if engine == nil {
		engine = bidding.Default()
	}
	return &BidService{
		gateway: gateway,
		engine:  engine,
		metrics: metrics,
		log:     log,
	}
}

func (s *BidService) PlaceLiveBid(ctx context.Context, auctionCarID string, amount float64) error {
	return s.placeAmount(ctx, domain.MethodPlaceLiveBid, auctionCarID, amount)
}

func (s *BidService) PlacePreBid(ctx context.Context, auctionCarID string, amount float64) error {
	return s.placeAmount(ctx, domain.MethodPlacePreBid, auctionCarID, amount)
}

func (s *BidService) placeAmount(ctx context.Context, method, auctionCarID string, amount float64) error {
	if err := s.ensureAvailable(auctionCarID); err != nil {
		return err
	}

	if view, ok := s.seededView(auctionCarID); ok {
		result := s.engine.ValidateBidAmount(bidding.BidCheck{
			Amount:       amount,
			CurrentPrice: view.CurrentPrice,
			MinPreBid:    view.MinPreBid,
		})
		if !result.Valid {
			return s.reject(result.Reason, result.Message, result.SuggestedAmount)
		}
	} else if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return s.reject(bidding.ReasonInvalidAmount, "bid amount must be a positive number", 0)
	}

	s.log.Info("Placing bid", "method", method, "auction_car_id", auctionCarID, "amount", amount)
	return s.send(ctx, method, domain.LiveBidRequest{AuctionCarID: auctionCarID, Amount: amount})
}

// PlaceProxyBid registers an automatic bidder up to maxAmount. An increment of
// zero leaves the raise size to the auction service.
func (s *BidService) PlaceProxyBid(ctx context.Context, auctionCarID string, maxAmount, incrementAmount float64) error {
	if err := s.ensureAvailable(auctionCarID); err != nil {
		return err
	}
	if math.IsNaN(incrementAmount) || math.IsInf(incrementAmount, 0) || incrementAmount < 0 {
		return s.reject(bidding.ReasonInvalidAmount, "increment must be zero or a positive number", 0)
	}

	if view, ok := s.seededView(auctionCarID); ok {
		start := s.engine.CalculateMinimumBid(view.CurrentPrice, view.MinPreBid)
		result := s.engine.CalculateProxyBidParams(start, maxAmount, view.CurrentPrice, view.MinPreBid)
		if !result.Valid {
			return s.reject(result.Reason, result.Message, 0)
		}
		s.log.Debug("Proxy bid estimate", "auction_car_id", auctionCarID, "estimated_bids", result.EstimatedBidCount)
	} else if math.IsNaN(maxAmount) || math.IsInf(maxAmount, 0) || maxAmount <= 0 {
		return s.reject(bidding.ReasonInvalidAmount, "proxy bid amounts must be positive numbers", 0)
	}

	s.log.Info("Placing proxy bid", "auction_car_id", auctionCarID, "max_amount", maxAmount, "increment", incrementAmount)
	return s.send(ctx, domain.MethodPlaceProxyBid, domain.ProxyBidRequest{
		AuctionCarID:    auctionCarID,
		MaxAmount:       maxAmount,
		IncrementAmount: incrementAmount,
	})
}

func (s *BidService) CancelProxyBid(ctx context.Context, auctionCarID string) error {
	if err := s.ensureAvailable(auctionCarID); err != nil {
		return err
	}
	s.log.Info("Cancelling proxy bid", "auction_car_id", auctionCarID)
	return s.send(ctx, domain.MethodCancelProxyBid, domain.CancelProxyBidRequest{AuctionCarID: auctionCarID})
}

func (s *BidService) ensureAvailable(auctionCarID string) error {
	if auctionCarID == "" {
		return errors.New("auction car id is required")
	}
	if info := s.gateway.Info(); !info.CanBid() {
		return fmt.Errorf("%w (state %s)", ErrBiddingUnavailable, info.State)
	}
	return nil
}

// seededView returns the view when it holds a snapshot of the given car.
func (s *BidService) seededView(auctionCarID string) (domain.AuctionViewState, bool) {
	view := s.gateway.View()
	return view, view.Seeded && view.AuctionCarID == auctionCarID
}

func (s *BidService) reject(reason bidding.Reason, message string, suggested float64) error {
	s.metrics.RecordBidRejected(string(reason))
	return &BidRejectedError{Reason: reason, Message: message, SuggestedAmount: suggested}
}

func (s *BidService) send(ctx context.Context, method string, req interface{}) error {
	_, err := s.gateway.Invoke(ctx, domain.ChannelBid, method, req)
	s.metrics.RecordBidSent(method, err)
	if err != nil {
		if errors.Is(err, ErrConnectionUnavailable) {
			return fmt.Errorf("%w: %v", ErrBiddingUnavailable, err)
		}
		s.log.Error("Failed to send bid", "method", method, "error", err)
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}
