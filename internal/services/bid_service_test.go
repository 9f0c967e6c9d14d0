package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"auction-sync/internal/bidding"
	"auction-sync/internal/domain"
	"auction-sync/internal/instrumentation"
	"auction-sync/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type invocation struct {
	channel domain.ChannelKind
	method  string
	args    []interface{}
}

type fakeGateway struct {
	info  domain.ConnectionInfo
	view  domain.AuctionViewState
	err   error
	calls []invocation
}

func (g *fakeGateway) Info() domain.ConnectionInfo   { return g.info }
func (g *fakeGateway) View() domain.AuctionViewState { return g.view }

func (g *fakeGateway) Invoke(_ context.Context, channel domain.ChannelKind, method string, args ...interface{}) (json.RawMessage, error) {
	g.calls = append(g.calls, invocation{channel: channel, method: method, args: args})
	return nil, g.err
}

func connectedGateway() *fakeGateway {
	return &fakeGateway{
		info: domain.ConnectionInfo{State: domain.StateConnected, IsOnline: true},
		view: domain.AuctionViewState{
			AuctionID:    "a1",
			AuctionCarID: "car-1",
			CurrentPrice: 1000,
			MinPreBid:    900,
			IsLive:       true,
			Seeded:       true,
		},
	}
}

func TestPlaceLiveBidSendsOnBidChannel(t *testing.T) {
	gw := connectedGateway()
	svc := NewBidService(gw, nil, nil, logger.NewNop())

	require.NoError(t, svc.PlaceLiveBid(context.Background(), "car-1", 1250))

	require.Len(t, gw.calls, 1)
	require.Equal(t, domain.ChannelBid, gw.calls[0].channel)
	require.Equal(t, domain.MethodPlaceLiveBid, gw.calls[0].method)
	require.Equal(t, domain.LiveBidRequest{AuctionCarID: "car-1", Amount: 1250}, gw.calls[0].args[0])
}

func TestPlaceLiveBidRejectedLocally(t *testing.T) {
	gw := connectedGateway()
	reg := prometheus.NewRegistry()
	metrics := instrumentation.NewMetrics(reg)
	svc := NewBidService(gw, nil, metrics, logger.NewNop())

	err := svc.PlaceLiveBid(context.Background(), "car-1", 1100)

	var rejected *BidRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, bidding.ReasonBelowMinimum, rejected.Reason)
	require.Equal(t, 1250.0, rejected.SuggestedAmount)
	require.Empty(t, gw.calls)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.BidsRejected.WithLabelValues(string(bidding.ReasonBelowMinimum))))
}

func TestPlaceBidUnavailableWhileReconnecting(t *testing.T) {
	for _, state := range []domain.ConnectionState{domain.StateReconnecting, domain.StateFailed, domain.StateDisconnected, domain.StateConnecting} {
		gw := connectedGateway()
		gw.info.State = state
		svc := NewBidService(gw, nil, nil, logger.NewNop())

		err := svc.PlaceLiveBid(context.Background(), "car-1", 1250)
		require.ErrorIs(t, err, ErrBiddingUnavailable, "state %s", state)
		require.Empty(t, gw.calls)
	}
}

func TestPlaceBidWithoutSnapshotOnlyChecksAmount(t *testing.T) {
	gw := connectedGateway()
	gw.view = domain.AuctionViewState{}
	svc := NewBidService(gw, nil, nil, logger.NewNop())

	require.NoError(t, svc.PlacePreBid(context.Background(), "car-7", 10))
	require.Equal(t, domain.MethodPlacePreBid, gw.calls[0].method)

	var rejected *BidRejectedError
	require.ErrorAs(t, svc.PlacePreBid(context.Background(), "car-7", -5), &rejected)
	require.Equal(t, bidding.ReasonInvalidAmount, rejected.Reason)
}

func TestPlaceBidTransportErrors(t *testing.T) {
	gw := connectedGateway()
	gw.err = ErrConnectionUnavailable
	svc := NewBidService(gw, nil, nil, logger.NewNop())
	require.ErrorIs(t, svc.PlaceLiveBid(context.Background(), "car-1", 1250), ErrBiddingUnavailable)

	gw.err = errors.New("hub method PlaceLiveBid failed: boom")
	err := svc.PlaceLiveBid(context.Background(), "car-1", 1250)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrBiddingUnavailable)
}

func TestPlaceProxyBid(t *testing.T) {
	gw := connectedGateway()
	svc := NewBidService(gw, nil, nil, logger.NewNop())

	var rejected *BidRejectedError
	require.ErrorAs(t, svc.PlaceProxyBid(context.Background(), "car-1", 1200, 0), &rejected)
	require.Equal(t, bidding.ReasonMaxNotAboveStart, rejected.Reason)

	require.ErrorAs(t, svc.PlaceProxyBid(context.Background(), "car-1", 5000, -1), &rejected)
	require.Equal(t, bidding.ReasonInvalidAmount, rejected.Reason)

	require.NoError(t, svc.PlaceProxyBid(context.Background(), "car-1", 5000, 500))
	require.Len(t, gw.calls, 1)
	require.Equal(t, domain.ProxyBidRequest{AuctionCarID: "car-1", MaxAmount: 5000, IncrementAmount: 500}, gw.calls[0].args[0])

	require.NoError(t, svc.CancelProxyBid(context.Background(), "car-1"))
	require.Equal(t, domain.MethodCancelProxyBid, gw.calls[1].method)
}

func TestPlaceBidRequiresCar(t *testing.T) {
	svc := NewBidService(connectedGateway(), nil, nil, logger.NewNop())
	require.Error(t, svc.PlaceLiveBid(context.Background(), "", 1250))
	require.Error(t, svc.CancelProxyBid(context.Background(), ""))
}
