package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"auction-sync/internal/domain"
	"auction-sync/internal/services"
	"auction-sync/pkg/logger"
)

// SimulatorHandlers exposes an AuctionSimulator through the hub methods.
type SimulatorHandlers struct {
	simulator *services.AuctionSimulator
	log       logger.Logger
}

func NewSimulatorHandlers(simulator *services.AuctionSimulator, log logger.Logger) *SimulatorHandlers {
	return &SimulatorHandlers{simulator: simulator, log: log}
}

// AuctionOptions configures the auction channel: joining a room pushes its snapshot.
func (h *SimulatorHandlers) AuctionOptions() []ServerOption {
	return []ServerOption{WithGroupJoinedHook(h.sendSnapshot)}
}

// BidOptions configures the bid channel with the bid placement methods.
func (h *SimulatorHandlers) BidOptions() []ServerOption {
	return []ServerOption{
		WithGroupJoinedHook(h.sendSnapshot),
		WithMethod(domain.MethodPlaceLiveBid, h.placeLiveBid),
		WithMethod(domain.MethodPlacePreBid, h.placePreBid),
		WithMethod(domain.MethodPlaceProxyBid, h.placeProxyBid),
		WithMethod(domain.MethodCancelProxyBid, h.cancelProxyBid),
	}
}

func (h *SimulatorHandlers) sendSnapshot(peer *Peer, group string) {
	kind, snapshot, ok := h.simulator.Snapshot(group)
	if !ok {
		h.log.Debug("No snapshot for group", "group", group, "peer_id", peer.ID())
		return
	}
	if err := peer.SendEvent(string(kind), snapshot); err != nil {
		h.log.Warn("Failed to send snapshot", "group", group, "peer_id", peer.ID(), "error", err)
	}
}

func (h *SimulatorHandlers) placeLiveBid(_ context.Context, peer *Peer, args []json.RawMessage) (interface{}, error) {
	var req domain.LiveBidRequest
	if err := decodeArgument(args, &req); err != nil {
		return nil, err
	}
	return nil, h.reply(peer, h.simulator.PlaceLiveBid(peer.Principal(), req))
}

func (h *SimulatorHandlers) placePreBid(_ context.Context, peer *Peer, args []json.RawMessage) (interface{}, error) {
	var req domain.LiveBidRequest
	if err := decodeArgument(args, &req); err != nil {
		return nil, err
	}
	return nil, h.reply(peer, h.simulator.PlacePreBid(peer.Principal(), req))
}

func (h *SimulatorHandlers) placeProxyBid(_ context.Context, peer *Peer, args []json.RawMessage) (interface{}, error) {
	var req domain.ProxyBidRequest
	if err := decodeArgument(args, &req); err != nil {
		return nil, err
	}
	return nil, h.reply(peer, h.simulator.PlaceProxyBid(peer.Principal(), req))
}

func (h *SimulatorHandlers) cancelProxyBid(_ context.Context, peer *Peer, args []json.RawMessage) (interface{}, error) {
	var req domain.CancelProxyBidRequest
	if err := decodeArgument(args, &req); err != nil {
		return nil, err
	}
	return nil, h.reply(peer, h.simulator.CancelProxyBid(peer.Principal(), req))
}

// reply pushes a rejection to the bidder as a BidError event. The invocation
// itself still completes: it only acknowledges delivery.
func (h *SimulatorHandlers) reply(peer *Peer, rejection *domain.BidErrorEvent) error {
	if rejection == nil {
		return nil
	}
	h.log.Info("Bid rejected", "bidder_id", peer.Principal(), "auction_car_id", rejection.AuctionCarID, "code", rejection.Code)
	if err := peer.SendEvent(string(domain.EventBidError), rejection); err != nil {
		h.log.Warn("Failed to send bid error", "peer_id", peer.ID(), "error", err)
	}
	return nil
}

func decodeArgument(args []json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return errors.New("request argument required")
	}
	if err := json.Unmarshal(args[0], v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// TokenAuthenticator accepts the listed tokens, mapping each to a bidder id.
// An empty table accepts any non-empty token as its own bidder id.
func TokenAuthenticator(tokens map[string]string) Authenticator {
	return func(token string) (string, error) {
		if token == "" {
			return "", errors.New("missing access token")
		}
		if len(tokens) == 0 {
			return token, nil
		}
		bidder, ok := tokens[token]
		if !ok {
			return "", errors.New("invalid access token")
		}
		return bidder, nil
	}
}
