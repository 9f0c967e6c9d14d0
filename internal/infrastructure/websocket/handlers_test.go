package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"auction-sync/internal/bidding"
	"auction-sync/internal/domain"
	"auction-sync/internal/services"
	"auction-sync/pkg/logger"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestSimulatorHandlersOverHub(t *testing.T) {
	rooms := NewRoomManager(logger.NewNop())
	sim, err := services.NewAuctionSimulator(services.SimulatorConfig{
		AuctionID:    "a1",
		Cars:         []services.SimulatedCar{{ID: "car-1", StartingPrice: 5000, MinPreBid: 5000}},
		LotDuration:  time.Minute,
		ExtendWindow: 10 * time.Second,
		ResetTo:      15 * time.Second,
		TickInterval: time.Second,
	}, bidding.Default(), rooms, clockwork.NewFakeClock(), logger.NewNop())
	require.NoError(t, err)
	sim.Open()

	handlers := NewSimulatorHandlers(sim, logger.NewNop())
	_, url := startHub(t, domain.ChannelBid, handlers.BidOptions()...)
	conn, events := dialHub(t, url, "token-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Start(ctx))

	_, err = conn.Invoke(ctx, domain.MethodJoinGroup, domain.AuctionCarGroup("car-1"))
	require.NoError(t, err)

	ev := nextEvent(t, events)
	require.Equal(t, string(domain.EventJoinedAuctionCar), ev.target)
	var snap domain.AuctionSnapshot
	require.NoError(t, json.Unmarshal(ev.args[0], &snap))
	require.Equal(t, "car-1", snap.AuctionCarID)
	require.Equal(t, 5000.0, snap.CurrentPrice)

	// Rejections complete normally and arrive as a BidError event.
	_, err = conn.Invoke(ctx, domain.MethodPlaceLiveBid, domain.LiveBidRequest{AuctionCarID: "car-1", Amount: 100})
	require.NoError(t, err)
	ev = nextEvent(t, events)
	require.Equal(t, string(domain.EventBidError), ev.target)
	var bidErr domain.BidErrorEvent
	require.NoError(t, json.Unmarshal(ev.args[0], &bidErr))
	require.Equal(t, string(bidding.ReasonBelowMinimum), bidErr.Code)
	require.Equal(t, 5000.0, bidErr.SuggestedAmount)

	_, err = conn.Invoke(ctx, domain.MethodPlaceLiveBid, domain.LiveBidRequest{AuctionCarID: "car-1", Amount: 5000})
	require.NoError(t, err)
	ev = nextEvent(t, events)
	require.Equal(t, string(domain.EventNewLiveBid), ev.target)
	var bid domain.Bid
	require.NoError(t, json.Unmarshal(ev.args[0], &bid))
	require.Equal(t, "bidder-1", bid.BidderID, "bidder comes from the access token")

	_, err = conn.Invoke(ctx, domain.MethodPlaceLiveBid)
	var hubErr *HubError
	require.ErrorAs(t, err, &hubErr)
}
