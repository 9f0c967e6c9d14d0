package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"auction-sync/internal/domain"
	"auction-sync/internal/instrumentation"
	"auction-sync/pkg/logger"

	"github.com/jonboulle/clockwork"
)

const (
	defaultHistoryLimit = 50
	journalWriteTimeout = 5 * time.Second
)

type DispatcherOption func(*EventDispatcher)

// WithJournal records every dispatched event under the given session id.
func WithJournal(journal domain.EventJournal, sessionID string) DispatcherOption {
	return func(d *EventDispatcher) {
		d.journal = journal
		d.sessionID = sessionID
	}
}

func WithHistoryLimit(limit int) DispatcherOption {
	return func(d *EventDispatcher) {
		if limit > 0 {
			d.historyLimit = limit
		}
	}
}

func WithDispatcherClock(clock clockwork.Clock) DispatcherOption {
	return func(d *EventDispatcher) {
		d.clock = clock
	}
}

func WithDispatcherMetrics(metrics *instrumentation.Metrics) DispatcherOption {
	return func(d *EventDispatcher) {
		d.metrics = metrics
	}
}

// EventDispatcher decodes push events, folds them into the auction view-state
// and forwards them to the typed handler.
type EventDispatcher struct {
	mu   sync.Mutex
	view domain.AuctionViewState

	timer        *TimerSync
	handler      domain.AuctionEventHandler
	journal      domain.EventJournal
	sessionID    string
	historyLimit int
	clock        clockwork.Clock
	metrics      *instrumentation.Metrics
	log          logger.Logger
}

func NewEventDispatcher(handler domain.AuctionEventHandler, log logger.Logger, opts ...DispatcherOption) *EventDispatcher {
	if handler == nil {
		handler = domain.NopEventHandler{}
	}
	d := &EventDispatcher{
		handler:      handler,
		historyLimit: defaultHistoryLimit,
		clock:        clockwork.NewRealClock(),
		log:          log,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.timer = NewTimerSync(func() {
		d.handler.OnTimerExpired(d.currentCar())
	})
	return d
}

// View returns a copy of the current view-state.
func (d *EventDispatcher) View() domain.AuctionViewState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view.Clone()
}

// Reset drops the view-state; the next join snapshot rebuilds it.
func (d *EventDispatcher) Reset() {
	d.mu.Lock()
	d.view = domain.AuctionViewState{}
	d.mu.Unlock()
	d.timer.Seed(0)
}

func (d *EventDispatcher) currentCar() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view.AuctionCarID
}

// Dispatch handles one inbound event. Events are expected in arrival order per
// channel; it must not be called concurrently for the same channel.
func (d *EventDispatcher) Dispatch(channel domain.ChannelKind, target string, args []json.RawMessage) {
	d.metrics.RecordEvent(channel, target)

	if len(args) == 0 {
		d.log.Warn("Dropping event without payload", "channel", channel.String(), "target", target)
		return
	}
	payload := args[0]

	var (
		carID  string
		amount float64
		err    error
	)

	switch kind := domain.EventKind(target); kind {
	case domain.EventJoinedAuction, domain.EventJoinedAuctionCar:
		var snap domain.AuctionSnapshot
		if err = json.Unmarshal(payload, &snap); err == nil {
			carID, amount = snap.AuctionCarID, snap.CurrentPrice
			d.seed(snap)
			d.handler.OnAuctionJoined(snap)
		}

	case domain.EventAuctionStarted, domain.EventAuctionStopped, domain.EventAuctionEnded:
		var ev domain.AuctionLifecycleEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			carID = ev.AuctionCarID
			d.applyLifecycle(kind, ev)
		}

	case domain.EventAuctionExtended:
		var ev domain.AuctionExtendedEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			carID = ev.AuctionCarID
			d.handler.OnAuctionExtended(ev)
			d.applyRemaining(ev.AuctionCarID, ev.RemainingSeconds, d.timer.Reset)
		}

	case domain.EventCarMoved:
		var ev domain.CarMovedEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			carID = ev.NextAuctionCarID
			d.moveCar(ev)
			d.handler.OnCarMoved(ev)
		}

	case domain.EventTimerTick:
		var ev domain.TimerTickEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			carID = ev.AuctionCarID
			d.applyRemaining(ev.AuctionCarID, ev.RemainingSeconds, d.timer.Tick)
			d.handler.OnTimerTick(ev)
		}

	case domain.EventTimerReset:
		var ev domain.TimerResetEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			carID = ev.AuctionCarID
			d.applyRemaining(ev.AuctionCarID, ev.RemainingSeconds, d.timer.Reset)
			d.handler.OnTimerReset(ev)
		}

	case domain.EventNewLiveBid, domain.EventPreBidPlaced:
		var bid domain.Bid
		if err = json.Unmarshal(payload, &bid); err == nil {
			carID, amount = bid.AuctionCarID, bid.Amount
			d.applyBid(bid, kind == domain.EventNewLiveBid)
			if kind == domain.EventNewLiveBid {
				d.handler.OnNewLiveBid(bid)
			} else {
				d.handler.OnPreBidPlaced(bid)
			}
		}

	case domain.EventHighestBidUpdated:
		var ev domain.HighestBidUpdatedEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			carID, amount = ev.AuctionCarID, ev.Bid.Amount
			d.applyHighest(ev)
			d.handler.OnHighestBidUpdated(ev)
		}

	case domain.EventPriceUpdated:
		var ev domain.PriceUpdatedEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			carID, amount = ev.AuctionCarID, ev.CurrentPrice
			d.update(ev.AuctionCarID, func(v *domain.AuctionViewState) {
				v.CurrentPrice = ev.CurrentPrice
			})
			d.handler.OnPriceUpdated(ev)
		}

	case domain.EventBidStatsUpdated:
		var ev domain.BidStatsUpdatedEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			carID = ev.AuctionCarID
			d.update(ev.AuctionCarID, func(v *domain.AuctionViewState) {
				v.Stats = ev.Stats
			})
			d.handler.OnBidStatsUpdated(ev)
		}

	case domain.EventBidError:
		var ev domain.BidErrorEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			carID, amount = ev.AuctionCarID, ev.SuggestedAmount
			d.handler.OnBidError(ev)
		}

	default:
		d.log.Debug("Ignoring unknown event", "channel", channel.String(), "target", target)
		return
	}

	if err != nil {
		d.log.Warn("Failed to decode event", "channel", channel.String(), "target", target, "error", err)
		return
	}

	d.record(&domain.JournalEntry{
		SessionID:    d.sessionID,
		Channel:      channel,
		Kind:         domain.EventKind(target),
		AuctionCarID: carID,
		Amount:       amount,
		Payload:      append([]byte(nil), payload...),
		ReceivedAt:   d.clock.Now().UTC(),
	})
}

func (d *EventDispatcher) seed(snap domain.AuctionSnapshot) {
	d.mu.Lock()
	v := &d.view
	v.AuctionID = snap.AuctionID
	if snap.AuctionCarID != "" {
		v.AuctionCarID = snap.AuctionCarID
	}
	v.IsLive = snap.IsLive
	v.RemainingSeconds = max(snap.RemainingSeconds, 0)
	v.CurrentPrice = snap.CurrentPrice
	v.MinPreBid = snap.MinPreBid
	v.Stats = snap.Stats
	v.HighestBid = nil
	if snap.HighestBid != nil {
		hb := *snap.HighestBid
		v.HighestBid = &hb
	}
	v.BidHistory = nil
	for _, bid := range snap.RecentBids {
		if !containsBid(v.BidHistory, bid.ID) {
			v.BidHistory = append(v.BidHistory, bid)
		}
	}
	if len(v.BidHistory) > d.historyLimit {
		v.BidHistory = v.BidHistory[:d.historyLimit]
	}
	v.Seeded = true
	remaining := v.RemainingSeconds
	d.mu.Unlock()

	d.timer.Seed(remaining)
}

// update applies fn when the event belongs to the seeded auction car.
func (d *EventDispatcher) update(carID string, fn func(v *domain.AuctionViewState)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.view.Seeded {
		return false
	}
	if carID != "" && d.view.AuctionCarID != "" && carID != d.view.AuctionCarID {
		return false
	}
	fn(&d.view)
	return true
}

func (d *EventDispatcher) applyLifecycle(kind domain.EventKind, ev domain.AuctionLifecycleEvent) {
	d.update(ev.AuctionCarID, func(v *domain.AuctionViewState) {
		v.IsLive = kind == domain.EventAuctionStarted
	})

	switch kind {
	case domain.EventAuctionStarted:
		d.handler.OnAuctionStarted(ev)
	case domain.EventAuctionStopped:
		d.handler.OnAuctionStopped(ev)
	case domain.EventAuctionEnded:
		d.handler.OnAuctionEnded(ev)
	}
}

func (d *EventDispatcher) applyRemaining(carID string, remaining int, apply func(int)) {
	applied := d.update(carID, func(v *domain.AuctionViewState) {
		v.RemainingSeconds = max(remaining, 0)
	})
	if applied {
		apply(remaining)
	}
}

// moveCar points the view at the next car. The view stays unseeded until that
// car's snapshot arrives.
func (d *EventDispatcher) moveCar(ev domain.CarMovedEvent) {
	d.mu.Lock()
	moved := d.view.Seeded && (d.view.AuctionID == "" || d.view.AuctionID == ev.AuctionID)
	if moved {
		d.view = domain.AuctionViewState{
			AuctionID:    d.view.AuctionID,
			AuctionCarID: ev.NextAuctionCarID,
		}
	}
	d.mu.Unlock()

	if moved {
		d.timer.Seed(0)
	}
}

func (d *EventDispatcher) applyBid(bid domain.Bid, live bool) {
	d.update(bid.AuctionCarID, func(v *domain.AuctionViewState) {
		d.pushHistory(v, bid)
		if live && (v.HighestBid == nil || bid.Amount > v.HighestBid.Amount) {
			hb := bid
			v.HighestBid = &hb
		}
	})
}

// applyHighest only raises the highest bid, so it commutes with NewLiveBid
// arriving on the other channel.
func (d *EventDispatcher) applyHighest(ev domain.HighestBidUpdatedEvent) {
	d.update(ev.AuctionCarID, func(v *domain.AuctionViewState) {
		if v.HighestBid == nil || ev.Bid.Amount >= v.HighestBid.Amount {
			hb := ev.Bid
			v.HighestBid = &hb
		}
		d.pushHistory(v, ev.Bid)
	})
}

// pushHistory keeps the history newest first by placement time, unique by bid
// id and bounded.
func (d *EventDispatcher) pushHistory(v *domain.AuctionViewState, bid domain.Bid) {
	if bid.ID != "" && containsBid(v.BidHistory, bid.ID) {
		return
	}
	at := len(v.BidHistory)
	for i, b := range v.BidHistory {
		if !b.PlacedAt.After(bid.PlacedAt) {
			at = i
			break
		}
	}
	history := make([]domain.Bid, 0, len(v.BidHistory)+1)
	history = append(history, v.BidHistory[:at]...)
	history = append(history, bid)
	history = append(history, v.BidHistory[at:]...)
	if len(history) > d.historyLimit {
		history = history[:d.historyLimit]
	}
	v.BidHistory = history
}

func containsBid(history []domain.Bid, id string) bool {
	for _, b := range history {
		if b.ID == id {
			return true
		}
	}
	return false
}

func (d *EventDispatcher) record(entry *domain.JournalEntry) {
	if d.journal == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		defer cancel()
		if err := d.journal.Record(ctx, entry); err != nil {
			d.metrics.RecordJournalError()
			d.log.Warn("Failed to journal event", "kind", string(entry.Kind), "error", err)
		}
	}()
}
