package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"auction-sync/internal/bidding"
	"auction-sync/internal/domain"
	"auction-sync/internal/services"
	"auction-sync/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	info       domain.ConnectionInfo
	view       domain.AuctionViewState
	subs       []domain.GroupSubscription
	reconnects int
}

func (s *stubSession) Info() domain.ConnectionInfo               { return s.info }
func (s *stubSession) View() domain.AuctionViewState             { return s.view }
func (s *stubSession) Subscriptions() []domain.GroupSubscription { return s.subs }

func (s *stubSession) Reconnect(context.Context) error {
	s.reconnects++
	s.info.State = domain.StateConnected
	return nil
}

type stubBids struct {
	err      error
	lastCar  string
	lastBid  float64
	canceled string
}

func (b *stubBids) PlaceLiveBid(_ context.Context, car string, amount float64) error {
	b.lastCar, b.lastBid = car, amount
	return b.err
}

func (b *stubBids) PlacePreBid(_ context.Context, car string, amount float64) error {
	b.lastCar, b.lastBid = car, amount
	return b.err
}

func (b *stubBids) PlaceProxyBid(_ context.Context, car string, maxAmount, _ float64) error {
	b.lastCar, b.lastBid = car, maxAmount
	return b.err
}

func (b *stubBids) CancelProxyBid(_ context.Context, car string) error {
	b.canceled = car
	return b.err
}

func newTestServer(session *stubSession, bids *stubBids) *echo.Echo {
	e := echo.New()
	NewStatusHandler(session, bids, nil, logger.NewNop()).Register(e, prometheus.NewRegistry())
	return e
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func seededSession() *stubSession {
	return &stubSession{
		info: domain.ConnectionInfo{State: domain.StateConnected, IsOnline: true},
		view: domain.AuctionViewState{
			AuctionID:        "a1",
			AuctionCarID:     "car-1",
			RemainingSeconds: 8,
			IsLive:           true,
			CurrentPrice:     1000,
			MinPreBid:        900,
			Seeded:           true,
		},
	}
}

func TestGetConnection(t *testing.T) {
	session := seededSession()
	session.info.State = domain.StateReconnecting
	session.info.RetryCount = 2
	e := newTestServer(session, &stubBids{})

	rec := serve(e, http.MethodGet, "/api/v1/connection", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "reconnecting", body["state"])
	require.Equal(t, false, body["canBid"])
	require.Equal(t, 2.0, body["retryCount"])

	rec = serve(e, http.MethodPost, "/api/v1/connection/reconnect", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, session.reconnects)
}

func TestGetView(t *testing.T) {
	e := newTestServer(seededSession(), &stubBids{})

	rec := serve(e, http.MethodGet, "/api/v1/view", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view ViewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "critical", view.Urgency)
	require.Equal(t, 1250.0, view.MinimumBid)
	require.NotEmpty(t, view.SuggestedBids)
	require.Equal(t, 1250.0, view.SuggestedBids[0])
	require.True(t, view.BiddingEnabled)
	require.False(t, view.TimerExpired)
}

func TestGetViewBeforeSnapshot(t *testing.T) {
	e := newTestServer(&stubSession{}, &stubBids{})

	rec := serve(e, http.MethodGet, "/api/v1/view", "")
	var view ViewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "none", view.Urgency)
	require.Zero(t, view.MinimumBid)
	require.False(t, view.TimerExpired)
	require.False(t, view.BiddingEnabled)
}

func TestValidateAndSuggest(t *testing.T) {
	e := newTestServer(seededSession(), &stubBids{})

	rec := serve(e, http.MethodPost, "/api/v1/bids/validate", `{"amount":1100}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result bidding.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.False(t, result.Valid)
	require.Equal(t, bidding.ReasonBelowMinimum, result.Reason)

	rec = serve(e, http.MethodGet, "/api/v1/bids/suggestions?currentPrice=5000&minPreBid=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 500.0, body["increment"])
	require.Equal(t, 5500.0, body["minimumBid"])

	for _, query := range []string{
		"currentPrice=lots",
		"currentPrice=Inf",
		"currentPrice=NaN",
		"minPreBid=%2BInf",
		"currentPrice=-1000",
	} {
		rec = serve(e, http.MethodGet, "/api/v1/bids/suggestions?"+query, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestValidateBidBeforeSnapshot(t *testing.T) {
	session := &stubSession{info: domain.ConnectionInfo{State: domain.StateConnected, IsOnline: true}}
	e := newTestServer(session, &stubBids{})

	rec := serve(e, http.MethodPost, "/api/v1/bids/validate", `{"amount":25}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["seeded"])

	session.view = seededSession().view
	rec = serve(e, http.MethodPost, "/api/v1/bids/validate", `{"amount":1250}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result bidding.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Valid)
}

func TestPlaceBidOutcomes(t *testing.T) {
	bids := &stubBids{}
	e := newTestServer(seededSession(), bids)

	rec := serve(e, http.MethodPost, "/api/v1/bids/live", `{"amount":1250}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "car-1", bids.lastCar, "defaults to the car in view")
	require.Equal(t, 1250.0, bids.lastBid)

	bids.err = &services.BidRejectedError{Reason: bidding.ReasonBelowMinimum, Message: "too low", SuggestedAmount: 1250}
	rec = serve(e, http.MethodPost, "/api/v1/bids/pre", `{"auctionCarId":"car-2","amount":10}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "car-2", bids.lastCar)

	bids.err = services.ErrBiddingUnavailable
	rec = serve(e, http.MethodPost, "/api/v1/bids/proxy", `{"maxAmount":5000,"incrementAmount":250}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	bids.err = errors.New("hub method CancelProxyBid failed: boom")
	rec = serve(e, http.MethodDelete, "/api/v1/bids/proxy/car-3", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "car-3", bids.canceled)

	rec = serve(e, http.MethodPost, "/api/v1/bids/live", `{"amount":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestServer(seededSession(), &stubBids{})

	rec := serve(e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"connection":"connected"`)

	rec = serve(e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
