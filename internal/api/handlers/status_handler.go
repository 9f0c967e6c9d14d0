package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"auction-sync/internal/bidding"
	"auction-sync/internal/domain"
	"auction-sync/internal/services"
	"auction-sync/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session is the read side of the connection manager plus a manual reconnect.
type Session interface {
	Info() domain.ConnectionInfo
	View() domain.AuctionViewState
	Subscriptions() []domain.GroupSubscription
	Reconnect(ctx context.Context) error
}

type BidPlacer interface {
	PlaceLiveBid(ctx context.Context, auctionCarID string, amount float64) error
	PlacePreBid(ctx context.Context, auctionCarID string, amount float64) error
	PlaceProxyBid(ctx context.Context, auctionCarID string, maxAmount, incrementAmount float64) error
	CancelProxyBid(ctx context.Context, auctionCarID string) error
}

type StatusHandler struct {
	session Session
	bids    BidPlacer
	engine  *bidding.Engine
	log     logger.Logger
}

type ConnectionResponse struct {
	domain.ConnectionInfo
	CanBid bool `json:"canBid"`
}

type ViewResponse struct {
	domain.AuctionViewState
	Urgency        string    `json:"urgency"`
	MinimumBid     float64   `json:"minimumBid"`
	SuggestedBids  []float64 `json:"suggestedBids"`
	TimerExpired   bool      `json:"timerExpired"`
	BiddingEnabled bool      `json:"biddingEnabled"`
}

type ValidateBidRequest struct {
	Amount     float64 `json:"amount"`
	MaxAllowed float64 `json:"maxAllowed"`
}

type PlaceBidRequest struct {
	AuctionCarID    string  `json:"auctionCarId"`
	Amount          float64 `json:"amount"`
	MaxAmount       float64 `json:"maxAmount"`
	IncrementAmount float64 `json:"incrementAmount"`
}

func NewStatusHandler(session Session, bids BidPlacer, engine *bidding.Engine, log logger.Logger) *StatusHandler {
	if engine == nil {
		engine = bidding.Default()
	}
	return &StatusHandler{
		session: session,
		bids:    bids,
		engine:  engine,
		log:     log,
	}
}

// Register mounts the status routes. A nil gatherer leaves /metrics out.
func (h *StatusHandler) Register(e *echo.Echo, gatherer prometheus.Gatherer) {
	e.GET("/health", h.Health)

	api := e.Group("/api/v1")
	api.GET("/connection", h.GetConnection)
	api.POST("/connection/reconnect", h.Reconnect)
	api.GET("/view", h.GetView)
	api.GET("/subscriptions", h.GetSubscriptions)
	api.POST("/bids/validate", h.ValidateBid)
	api.GET("/bids/suggestions", h.GetSuggestions)
	api.POST("/bids/live", h.PlaceLiveBid)
	api.POST("/bids/pre", h.PlacePreBid)
	api.POST("/bids/proxy", h.PlaceProxyBid)
	api.DELETE("/bids/proxy/:carId", h.CancelProxyBid)

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *StatusHandler) Health(c echo.Context) error {
	info := h.session.Info()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"connection": info.State.String(),
		"online":     info.IsOnline,
	})
}

func (h *StatusHandler) GetConnection(c echo.Context) error {
	info := h.session.Info()
	return c.JSON(http.StatusOK, ConnectionResponse{ConnectionInfo: info, CanBid: info.CanBid()})
}

func (h *StatusHandler) Reconnect(c echo.Context) error {
	h.log.Info("Manual reconnect requested", "remote_addr", c.RealIP())
	if err := h.session.Reconnect(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	info := h.session.Info()
	return c.JSON(http.StatusAccepted, ConnectionResponse{ConnectionInfo: info, CanBid: info.CanBid()})
}

func (h *StatusHandler) GetView(c echo.Context) error {
	view := h.session.View()
	resp := ViewResponse{
		AuctionViewState: view,
		Urgency:          bidding.BidUrgency(view.RemainingSeconds, view.IsLive).String(),
		TimerExpired:     view.Seeded && view.RemainingSeconds == 0,
		BiddingEnabled:   h.session.Info().CanBid(),
	}
	if view.Seeded {
		resp.MinimumBid = h.engine.CalculateMinimumBid(view.CurrentPrice, view.MinPreBid)
		resp.SuggestedBids = h.engine.SuggestedBidAmounts(view.CurrentPrice, view.MinPreBid)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *StatusHandler) GetSubscriptions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Subscriptions())
}

// ValidateBid checks an amount against the current view without sending it.
// It answers 409 until the view holds a join snapshot.
func (h *StatusHandler) ValidateBid(c echo.Context) error {
	var req ValidateBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	view := h.session.View()
	if !view.Seeded {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "no auction snapshot received yet",
			"seeded": false,
		})
	}
	result := h.engine.ValidateBidAmount(bidding.BidCheck{
		Amount:       req.Amount,
		CurrentPrice: view.CurrentPrice,
		MinPreBid:    view.MinPreBid,
		MaxAllowed:   req.MaxAllowed,
	})
	return c.JSON(http.StatusOK, result)
}

// GetSuggestions returns the quick-pick ladder. Query parameters override the view.
func (h *StatusHandler) GetSuggestions(c echo.Context) error {
	view := h.session.View()
	currentPrice, err := floatParam(c, "currentPrice", view.CurrentPrice)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	minPreBid, err := floatParam(c, "minPreBid", view.MinPreBid)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if !bidding.ValidPrices(currentPrice, minPreBid) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "currentPrice and minPreBid must not be negative"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"currentPrice": currentPrice,
		"increment":    h.engine.CalculateIncrement(currentPrice),
		"minimumBid":   h.engine.CalculateMinimumBid(currentPrice, minPreBid),
		"suggestions":  h.engine.SuggestedBidAmounts(currentPrice, minPreBid),
	})
}

func (h *StatusHandler) PlaceLiveBid(c echo.Context) error {
	req, err := h.bindBid(c)
	if err != nil {
		return err
	}
	return h.bidResult(c, h.bids.PlaceLiveBid(c.Request().Context(), req.AuctionCarID, req.Amount))
}

func (h *StatusHandler) PlacePreBid(c echo.Context) error {
	req, err := h.bindBid(c)
	if err != nil {
		return err
	}
	return h.bidResult(c, h.bids.PlacePreBid(c.Request().Context(), req.AuctionCarID, req.Amount))
}

func (h *StatusHandler) PlaceProxyBid(c echo.Context) error {
	req, err := h.bindBid(c)
	if err != nil {
		return err
	}
	return h.bidResult(c, h.bids.PlaceProxyBid(c.Request().Context(), req.AuctionCarID, req.MaxAmount, req.IncrementAmount))
}

func (h *StatusHandler) CancelProxyBid(c echo.Context) error {
	return h.bidResult(c, h.bids.CancelProxyBid(c.Request().Context(), c.Param("carId")))
}

func (h *StatusHandler) bindBid(c echo.Context) (*PlaceBidRequest, error) {
	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if req.AuctionCarID == "" {
		req.AuctionCarID = h.session.View().AuctionCarID
	}
	return &req, nil
}

// bidResult maps a placement outcome to a response. 202 only means the request
// reached the server; acceptance arrives as a push event.
func (h *StatusHandler) bidResult(c echo.Context, err error) error {
	var rejected *services.BidRejectedError
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, map[string]string{"status": "sent"})
	case errors.As(err, &rejected):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"reason":          rejected.Reason,
			"message":         rejected.Message,
			"suggestedAmount": rejected.SuggestedAmount,
		})
	case errors.Is(err, services.ErrBiddingUnavailable):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		h.log.Error("Bid request failed", "error", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

// floatParam reads a finite number from the query, or fallback when absent.
func floatParam(c echo.Context, name string, fallback float64) (float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a finite number", name)
	}
	return v, nil
}
