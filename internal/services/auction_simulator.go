package services

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"auction-sync/internal/bidding"
	"auction-sync/internal/domain"
	"auction-sync/pkg/logger"
	"auction-sync/pkg/utils"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// Rejection codes sent in BidError events besides the bidding reasons.
const (
	CodeUnknownCar   = "unknown_car"
	CodeLotNotLive   = "lot_not_live"
	CodeLotIsLive    = "lot_is_live"
	CodeAuctionEnded = "auction_ended"
)

type SimulatedCar struct {
	ID            string  `mapstructure:"id"`
	StartingPrice float64 `mapstructure:"starting_price"`
	MinPreBid     float64 `mapstructure:"min_pre_bid"`
}

type SimulatorConfig struct {
	AuctionID    string         `mapstructure:"auction_id"`
	Cars         []SimulatedCar `mapstructure:"cars"`
	LotDuration  time.Duration  `mapstructure:"lot_duration"`
	ExtendWindow time.Duration  `mapstructure:"extend_window"`
	ResetTo      time.Duration  `mapstructure:"reset_to"`
	TickInterval time.Duration  `mapstructure:"tick_interval"`
	RecentBids   int            `mapstructure:"recent_bids"`
}

type proxyBid struct {
	bidderID  string
	maxAmount float64
	increment float64
}

type carState struct {
	SimulatedCar
	currentPrice float64
	highest      *domain.Bid
	bids         []domain.Bid // newest first
	bidders      map[string]struct{}
	proxies      map[string]proxyBid
	sold         bool
}

func (c *carState) stats() domain.BidStats {
	stats := domain.BidStats{
		TotalBids:     len(c.bids),
		UniqueBidders: len(c.bidders),
		StartingPrice: c.StartingPrice,
	}
	if c.highest != nil {
		stats.HighestAmount = c.highest.Amount
	}
	return stats
}

type outbound struct {
	channel domain.ChannelKind
	group   string
	target  domain.EventKind
	payload interface{}
}

// AuctionSimulator runs one auction of consecutive lots in memory, the way the
// auction service drives its hubs: timer ticks, lot changes and validated bids
// are pushed to the rooms.
type AuctionSimulator struct {
	mu       sync.Mutex
	cfg      SimulatorConfig
	cars     []*carState
	current  int
	live     bool
	ended    bool
	deadline time.Time

	engine      *bidding.Engine
	broadcaster domain.GroupBroadcaster
	clock       clockwork.Clock
	cron        *cron.Cron
	log         logger.Logger
}

func NewAuctionSimulator(cfg SimulatorConfig, engine *bidding.Engine, broadcaster domain.GroupBroadcaster,
	clock clockwork.Clock, log logger.Logger) (*AuctionSimulator, error) {
	if cfg.AuctionID == "" {
		return nil, errors.New("auction id is required")
	}
	if len(cfg.Cars) == 0 {
		return nil, errors.New("at least one car is required")
	}
	if cfg.LotDuration <= 0 || cfg.TickInterval <= 0 {
		return nil, errors.New("lot duration and tick interval must be positive")
	}
	if cfg.RecentBids <= 0 {
		cfg.RecentBids = 10
	}
	if engine == nil {
		engine = bidding.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &AuctionSimulator{
		cfg:         cfg,
		engine:      engine,
		broadcaster: broadcaster,
		clock:       clock,
		log:         log,
	}
	for _, car := range cfg.Cars {
		if car.ID == "" {
			car.ID = utils.GenerateID("car")
		}
		s.cars = append(s.cars, &carState{
			SimulatedCar: car,
			currentPrice: car.StartingPrice,
			bidders:      make(map[string]struct{}),
			proxies:      make(map[string]proxyBid),
		})
	}
	return s, nil
}

func (s *AuctionSimulator) AuctionID() string {
	return s.cfg.AuctionID
}

// CurrentCarID returns the lot being auctioned, or the last one once ended.
func (s *AuctionSimulator) CurrentCarID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cars[s.current].ID
}

// Start opens the first lot and schedules the timer ticks.
func (s *AuctionSimulator) Start() error {
	s.Open()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.TickInterval), s.Tick); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("Auction simulator started", "auction_id", s.cfg.AuctionID, "cars", len(s.cars))
	return nil
}

func (s *AuctionSimulator) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.log.Info("Auction simulator stopped", "auction_id", s.cfg.AuctionID)
}

// Open makes the current lot live. Repeated calls are ignored.
func (s *AuctionSimulator) Open() {
	s.mu.Lock()
	if s.live || s.ended {
		s.mu.Unlock()
		return
	}
	s.live = true
	s.deadline = s.clock.Now().Add(s.cfg.LotDuration)
	car := s.cars[s.current]
	out := []outbound{{
		channel: domain.ChannelAuction,
		group:   domain.AuctionGroup(s.cfg.AuctionID),
		target:  domain.EventAuctionStarted,
		payload: domain.AuctionLifecycleEvent{AuctionID: s.cfg.AuctionID, AuctionCarID: car.ID, OccurredAt: s.clock.Now().UTC()},
	}}
	s.mu.Unlock()

	s.emit(out)
}

// Pause stops the countdown of the live lot without ending it.
func (s *AuctionSimulator) Pause(reason string) {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return
	}
	s.live = false
	car := s.cars[s.current]
	out := []outbound{{
		channel: domain.ChannelAuction,
		group:   domain.AuctionGroup(s.cfg.AuctionID),
		target:  domain.EventAuctionStopped,
		payload: domain.AuctionLifecycleEvent{AuctionID: s.cfg.AuctionID, AuctionCarID: car.ID, Reason: reason, OccurredAt: s.clock.Now().UTC()},
	}}
	s.mu.Unlock()

	s.emit(out)
}

// Tick pushes the remaining time of the live lot and closes it when time is up.
func (s *AuctionSimulator) Tick() {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return
	}

	car := s.cars[s.current]
	remaining := s.remainingLocked()
	out := []outbound{{
		channel: domain.ChannelAuction,
		group:   domain.AuctionGroup(s.cfg.AuctionID),
		target:  domain.EventTimerTick,
		payload: domain.TimerTickEvent{AuctionCarID: car.ID, RemainingSeconds: remaining},
	}}
	if remaining == 0 {
		out = append(out, s.closeLotLocked()...)
	}
	s.mu.Unlock()

	s.emit(out)
}

func (s *AuctionSimulator) remainingLocked() int {
	left := s.deadline.Sub(s.clock.Now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

func (s *AuctionSimulator) closeLotLocked() []outbound {
	car := s.cars[s.current]
	car.sold = car.highest != nil
	now := s.clock.Now().UTC()

	if s.current == len(s.cars)-1 {
		s.live = false
		s.ended = true
		s.log.Info("Auction ended", "auction_id", s.cfg.AuctionID, "last_car_id", car.ID)
		return []outbound{{
			channel: domain.ChannelAuction,
			group:   domain.AuctionGroup(s.cfg.AuctionID),
			target:  domain.EventAuctionEnded,
			payload: domain.AuctionLifecycleEvent{AuctionID: s.cfg.AuctionID, AuctionCarID: car.ID, OccurredAt: now},
		}}
	}

	s.current++
	next := s.cars[s.current]
	s.deadline = s.clock.Now().Add(s.cfg.LotDuration)
	s.log.Info("Moving to next car", "auction_id", s.cfg.AuctionID, "previous", car.ID, "next", next.ID, "sold", car.sold)

	return []outbound{{
		channel: domain.ChannelAuction,
		group:   domain.AuctionGroup(s.cfg.AuctionID),
		target:  domain.EventCarMoved,
		payload: domain.CarMovedEvent{AuctionID: s.cfg.AuctionID, PreviousAuctionCarID: car.ID, NextAuctionCarID: next.ID},
	}}
}

// Snapshot builds the join event for a group, or false for unknown groups.
func (s *AuctionSimulator) Snapshot(group string) (domain.EventKind, domain.AuctionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if group == domain.AuctionGroup(s.cfg.AuctionID) {
		return domain.EventJoinedAuction, s.snapshotLocked(s.cars[s.current]), true
	}
	for _, car := range s.cars {
		if group == domain.AuctionCarGroup(car.ID) {
			return domain.EventJoinedAuctionCar, s.snapshotLocked(car), true
		}
	}
	return "", domain.AuctionSnapshot{}, false
}

func (s *AuctionSimulator) snapshotLocked(car *carState) domain.AuctionSnapshot {
	isCurrent := car == s.cars[s.current]
	snap := domain.AuctionSnapshot{
		AuctionID:    s.cfg.AuctionID,
		AuctionCarID: car.ID,
		IsLive:       isCurrent && s.live,
		CurrentPrice: car.currentPrice,
		MinPreBid:    s.floorLocked(car),
		Stats:        car.stats(),
	}
	if isCurrent && s.live {
		snap.RemainingSeconds = s.remainingLocked()
	}
	if car.highest != nil {
		hb := *car.highest
		snap.HighestBid = &hb
	}
	n := min(len(car.bids), s.cfg.RecentBids)
	snap.RecentBids = append([]domain.Bid(nil), car.bids[:n]...)
	return snap
}

// PlaceLiveBid validates and applies a bid on the live lot. A non-nil event
// is the rejection to send back to the bidder.
func (s *AuctionSimulator) PlaceLiveBid(bidderID string, req domain.LiveBidRequest) *domain.BidErrorEvent {
	s.mu.Lock()
	car, rejection := s.liveCarLocked(req.AuctionCarID)
	if rejection != nil {
		s.mu.Unlock()
		return rejection
	}

	result := s.engine.ValidateBidAmount(bidding.BidCheck{
		Amount:       req.Amount,
		CurrentPrice: s.pricingBaseLocked(car),
		MinPreBid:    s.floorLocked(car),
	})
	if !result.Valid {
		s.mu.Unlock()
		return &domain.BidErrorEvent{
			AuctionCarID:    car.ID,
			Code:            string(result.Reason),
			Message:         result.Message,
			SuggestedAmount: result.SuggestedAmount,
		}
	}

	out := s.acceptLocked(car, bidderID, req.Amount, false, false)
	out = append(out, s.runProxiesLocked(car)...)
	out = append(out, s.extendLocked(car)...)
	out = append(out, s.statsLocked(car))
	s.mu.Unlock()

	s.emit(out)
	return nil
}

// PlacePreBid records a bid on a lot that has not opened yet.
func (s *AuctionSimulator) PlacePreBid(bidderID string, req domain.LiveBidRequest) *domain.BidErrorEvent {
	s.mu.Lock()
	car, rejection := s.upcomingCarLocked(req.AuctionCarID)
	if rejection != nil {
		s.mu.Unlock()
		return rejection
	}

	result := s.engine.ValidateBidAmount(bidding.BidCheck{
		Amount:       req.Amount,
		CurrentPrice: s.pricingBaseLocked(car),
		MinPreBid:    s.floorLocked(car),
	})
	if !result.Valid {
		s.mu.Unlock()
		return &domain.BidErrorEvent{
			AuctionCarID:    car.ID,
			Code:            string(result.Reason),
			Message:         result.Message,
			SuggestedAmount: result.SuggestedAmount,
		}
	}

	out := s.acceptLocked(car, bidderID, req.Amount, true, false)
	out = append(out, s.statsLocked(car))
	s.mu.Unlock()

	s.emit(out)
	return nil
}

// PlaceProxyBid registers an automatic bidder and lets it bid right away when
// the lot is live.
func (s *AuctionSimulator) PlaceProxyBid(bidderID string, req domain.ProxyBidRequest) *domain.BidErrorEvent {
	s.mu.Lock()
	car, rejection := s.findCarLocked(req.AuctionCarID)
	if rejection != nil {
		s.mu.Unlock()
		return rejection
	}

	base, floor := s.pricingBaseLocked(car), s.floorLocked(car)
	start := s.engine.CalculateMinimumBid(base, floor)
	result := s.engine.CalculateProxyBidParams(start, req.MaxAmount, base, floor)
	if !result.Valid {
		s.mu.Unlock()
		return &domain.BidErrorEvent{AuctionCarID: car.ID, Code: string(result.Reason), Message: result.Message}
	}

	car.proxies[bidderID] = proxyBid{bidderID: bidderID, maxAmount: req.MaxAmount, increment: req.IncrementAmount}
	s.log.Info("Proxy bid registered", "auction_car_id", car.ID, "bidder_id", bidderID, "max_amount", req.MaxAmount)

	var out []outbound
	if car == s.cars[s.current] && s.live {
		out = s.runProxiesLocked(car)
		if len(out) > 0 {
			out = append(out, s.extendLocked(car)...)
			out = append(out, s.statsLocked(car))
		}
	}
	s.mu.Unlock()

	s.emit(out)
	return nil
}

func (s *AuctionSimulator) CancelProxyBid(bidderID string, req domain.CancelProxyBidRequest) *domain.BidErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	car, rejection := s.findCarLocked(req.AuctionCarID)
	if rejection != nil {
		return rejection
	}
	delete(car.proxies, bidderID)
	return nil
}

// pricingBaseLocked is the price a new bid must beat. Before the first bid it
// is zero so the floor alone applies.
func (s *AuctionSimulator) pricingBaseLocked(car *carState) float64 {
	if car.highest == nil {
		return 0
	}
	return car.currentPrice
}

// floorLocked is the lowest acceptable opening bid.
func (s *AuctionSimulator) floorLocked(car *carState) float64 {
	return math.Max(car.MinPreBid, car.StartingPrice)
}

func (s *AuctionSimulator) findCarLocked(carID string) (*carState, *domain.BidErrorEvent) {
	if s.ended {
		return nil, &domain.BidErrorEvent{AuctionCarID: carID, Code: CodeAuctionEnded, Message: "the auction has ended"}
	}
	for _, car := range s.cars {
		if car.ID == carID {
			return car, nil
		}
	}
	return nil, &domain.BidErrorEvent{AuctionCarID: carID, Code: CodeUnknownCar, Message: "unknown auction car"}
}

func (s *AuctionSimulator) liveCarLocked(carID string) (*carState, *domain.BidErrorEvent) {
	car, rejection := s.findCarLocked(carID)
	if rejection != nil {
		return nil, rejection
	}
	if car != s.cars[s.current] || !s.live {
		return nil, &domain.BidErrorEvent{AuctionCarID: carID, Code: CodeLotNotLive, Message: "this car is not being auctioned"}
	}
	return car, nil
}

func (s *AuctionSimulator) upcomingCarLocked(carID string) (*carState, *domain.BidErrorEvent) {
	car, rejection := s.findCarLocked(carID)
	if rejection != nil {
		return nil, rejection
	}
	for i, c := range s.cars {
		if c != car {
			continue
		}
		if i < s.current {
			return nil, &domain.BidErrorEvent{AuctionCarID: carID, Code: CodeLotNotLive, Message: "this car has already been auctioned"}
		}
		if i == s.current && s.live {
			return nil, &domain.BidErrorEvent{AuctionCarID: carID, Code: CodeLotIsLive, Message: "pre-bids are closed, place a live bid"}
		}
	}
	return car, nil
}

func (s *AuctionSimulator) acceptLocked(car *carState, bidderID string, amount float64, preBid, proxy bool) []outbound {
	bid := domain.Bid{
		ID:           utils.GenerateID("bid"),
		AuctionCarID: car.ID,
		BidderID:     bidderID,
		Amount:       amount,
		IsPreBid:     preBid,
		IsProxy:      proxy,
		PlacedAt:     s.clock.Now().UTC(),
	}
	car.bids = append([]domain.Bid{bid}, car.bids...)
	car.bidders[bidderID] = struct{}{}
	car.highest = &bid
	car.currentPrice = amount

	group := domain.AuctionCarGroup(car.ID)
	placed := domain.EventNewLiveBid
	if preBid {
		placed = domain.EventPreBidPlaced
	}
	return []outbound{
		{channel: domain.ChannelBid, group: group, target: placed, payload: bid},
		{channel: domain.ChannelBid, group: group, target: domain.EventHighestBidUpdated,
			payload: domain.HighestBidUpdatedEvent{AuctionCarID: car.ID, Bid: bid}},
		{channel: domain.ChannelBid, group: group, target: domain.EventPriceUpdated,
			payload: domain.PriceUpdatedEvent{
				AuctionCarID:   car.ID,
				CurrentPrice:   amount,
				MinimumNextBid: s.engine.CalculateMinimumBid(amount, s.floorLocked(car)),
			}},
	}
}

// runProxiesLocked lets registered proxies outbid the current highest bidder
// until no proxy can go higher.
func (s *AuctionSimulator) runProxiesLocked(car *carState) []outbound {
	var out []outbound
	for i := 0; i < s.engine.MaxProxyIterations(); i++ {
		next := s.engine.CalculateMinimumBid(s.pricingBaseLocked(car), s.floorLocked(car))

		candidates := make([]proxyBid, 0, len(car.proxies))
		for _, p := range car.proxies {
			if car.highest != nil && car.highest.BidderID == p.bidderID {
				continue
			}
			if p.maxAmount >= next {
				candidates = append(candidates, p)
			}
		}
		if len(candidates) == 0 {
			return out
		}
		sort.Slice(candidates, func(a, b int) bool {
			if candidates[a].maxAmount != candidates[b].maxAmount {
				return candidates[a].maxAmount > candidates[b].maxAmount
			}
			return candidates[a].bidderID < candidates[b].bidderID
		})

		p := candidates[0]
		amount := next
		if p.increment > 0 && car.highest != nil {
			amount = math.Max(next, car.currentPrice+p.increment)
		}
		amount = math.Min(amount, p.maxAmount)
		out = append(out, s.acceptLocked(car, p.bidderID, amount, false, true)...)
	}
	return out
}

// extendLocked resets the countdown when a bid lands inside the extension window.
func (s *AuctionSimulator) extendLocked(car *carState) []outbound {
	if s.cfg.ExtendWindow <= 0 || s.cfg.ResetTo <= 0 {
		return nil
	}
	if s.deadline.Sub(s.clock.Now()) > s.cfg.ExtendWindow {
		return nil
	}
	s.deadline = s.clock.Now().Add(s.cfg.ResetTo)
	return []outbound{{
		channel: domain.ChannelAuction,
		group:   domain.AuctionGroup(s.cfg.AuctionID),
		target:  domain.EventTimerReset,
		payload: domain.TimerResetEvent{AuctionCarID: car.ID, RemainingSeconds: s.remainingLocked(), Reason: "late_bid"},
	}}
}

func (s *AuctionSimulator) statsLocked(car *carState) outbound {
	return outbound{
		channel: domain.ChannelBid,
		group:   domain.AuctionCarGroup(car.ID),
		target:  domain.EventBidStatsUpdated,
		payload: domain.BidStatsUpdatedEvent{AuctionCarID: car.ID, Stats: car.stats()},
	}
}

func (s *AuctionSimulator) emit(events []outbound) {
	for _, ev := range events {
		if err := s.broadcaster.BroadcastToGroup(ev.channel, ev.group, string(ev.target), ev.payload); err != nil {
			s.log.Error("Failed to broadcast event", "group", ev.group, "target", string(ev.target), "error", err)
		}
	}
}
