package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"auction-sync/internal/domain"
	"auction-sync/pkg/logger"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	domain.NopEventHandler

	mu       sync.Mutex
	joined   []domain.AuctionSnapshot
	moved    []domain.CarMovedEvent
	liveBids []domain.Bid
	ticks    []int
	expired  []string
	errors   []domain.BidErrorEvent
}

func (h *recordingHandler) OnAuctionJoined(s domain.AuctionSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joined = append(h.joined, s)
}

func (h *recordingHandler) OnCarMoved(ev domain.CarMovedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moved = append(h.moved, ev)
}

func (h *recordingHandler) OnNewLiveBid(bid domain.Bid) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveBids = append(h.liveBids, bid)
}

func (h *recordingHandler) OnTimerTick(ev domain.TimerTickEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks = append(h.ticks, ev.RemainingSeconds)
}

func (h *recordingHandler) OnTimerExpired(carID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expired = append(h.expired, carID)
}

func (h *recordingHandler) OnBidError(ev domain.BidErrorEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, ev)
}

type memoryJournal struct {
	entries chan *domain.JournalEntry
}

func (j *memoryJournal) Record(_ context.Context, entry *domain.JournalEntry) error {
	j.entries <- entry
	return nil
}

func args(t *testing.T, payload interface{}) []json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return []json.RawMessage{raw}
}

func seededDispatcher(t *testing.T, h *recordingHandler, opts ...DispatcherOption) *EventDispatcher {
	t.Helper()
	d := NewEventDispatcher(h, logger.NewNop(), opts...)
	d.Dispatch(domain.ChannelAuction, string(domain.EventJoinedAuction), args(t, domain.AuctionSnapshot{
		AuctionID:        "a1",
		AuctionCarID:     "car-1",
		IsLive:           true,
		RemainingSeconds: 3,
		CurrentPrice:     1000,
		MinPreBid:        900,
		RecentBids: []domain.Bid{
			{ID: "b2", AuctionCarID: "car-1", Amount: 1000},
			{ID: "b1", AuctionCarID: "car-1", Amount: 750},
			{ID: "b2", AuctionCarID: "car-1", Amount: 1000},
		},
	}))
	return d
}

func TestDispatcherIgnoresUpdatesBeforeSeed(t *testing.T) {
	h := &recordingHandler{}
	d := NewEventDispatcher(h, logger.NewNop())

	d.Dispatch(domain.ChannelBid, string(domain.EventPriceUpdated), args(t, domain.PriceUpdatedEvent{AuctionCarID: "car-1", CurrentPrice: 500}))
	d.Dispatch(domain.ChannelAuction, string(domain.EventTimerTick), args(t, domain.TimerTickEvent{AuctionCarID: "car-1", RemainingSeconds: 10}))

	view := d.View()
	require.False(t, view.Seeded)
	require.Zero(t, view.CurrentPrice)
	require.Zero(t, view.RemainingSeconds)
	require.Equal(t, []int{10}, h.ticks, "callbacks still run for unseeded views")
}

func TestDispatcherSeedDedupesHistory(t *testing.T) {
	h := &recordingHandler{}
	d := seededDispatcher(t, h)

	view := d.View()
	require.True(t, view.Seeded)
	require.Equal(t, "car-1", view.AuctionCarID)
	require.Equal(t, 1000.0, view.CurrentPrice)
	require.Len(t, view.BidHistory, 2)
	require.Equal(t, "b2", view.BidHistory[0].ID)
	require.Len(t, h.joined, 1)
}

func TestDispatcherLiveBidUpdatesHighestAndHistory(t *testing.T) {
	h := &recordingHandler{}
	d := seededDispatcher(t, h)

	d.Dispatch(domain.ChannelBid, string(domain.EventNewLiveBid), args(t, domain.Bid{ID: "b3", AuctionCarID: "car-1", BidderID: "u1", Amount: 1250}))
	d.Dispatch(domain.ChannelBid, string(domain.EventNewLiveBid), args(t, domain.Bid{ID: "b3", AuctionCarID: "car-1", BidderID: "u1", Amount: 1250}))
	d.Dispatch(domain.ChannelBid, string(domain.EventNewLiveBid), args(t, domain.Bid{ID: "x1", AuctionCarID: "car-9", Amount: 99999}))

	view := d.View()
	require.NotNil(t, view.HighestBid)
	require.Equal(t, 1250.0, view.HighestBid.Amount)
	require.Len(t, view.BidHistory, 3, "duplicate and foreign bids are not added")
	require.Equal(t, "b3", view.BidHistory[0].ID)
	require.Len(t, h.liveBids, 3, "handler sees every event")
}

func TestDispatcherViewCommutesAcrossChannels(t *testing.T) {
	bid := domain.Bid{ID: "b3", AuctionCarID: "car-1", BidderID: "u1", Amount: 1250, PlacedAt: time.Date(2026, 6, 1, 8, 0, 5, 0, time.UTC)}
	events := []struct {
		channel domain.ChannelKind
		target  domain.EventKind
		payload interface{}
	}{
		{domain.ChannelAuction, domain.EventPriceUpdated, domain.PriceUpdatedEvent{AuctionCarID: "car-1", CurrentPrice: 1250}},
		{domain.ChannelBid, domain.EventNewLiveBid, bid},
		{domain.ChannelAuction, domain.EventHighestBidUpdated, domain.HighestBidUpdatedEvent{AuctionCarID: "car-1", Bid: bid}},
	}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	var want domain.AuctionViewState
	for i, order := range orders {
		d := seededDispatcher(t, &recordingHandler{})
		for round := 0; round < 2; round++ {
			for _, idx := range order {
				ev := events[idx]
				d.Dispatch(ev.channel, string(ev.target), args(t, ev.payload))
			}
		}

		view := d.View()
		require.Equal(t, 1250.0, view.CurrentPrice, "order %v", order)
		require.NotNil(t, view.HighestBid, "order %v", order)
		require.Equal(t, bid.ID, view.HighestBid.ID, "order %v", order)
		require.Len(t, view.BidHistory, 3, "order %v", order)
		if i == 0 {
			want = view
			continue
		}
		require.Equal(t, want.CurrentPrice, view.CurrentPrice, "order %v", order)
		require.Equal(t, want.HighestBid, view.HighestBid, "order %v", order)
		require.Equal(t, want.BidHistory, view.BidHistory, "order %v", order)
	}
}

func TestDispatcherBidsCommuteAcrossChannels(t *testing.T) {
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	low := domain.Bid{ID: "b3", AuctionCarID: "car-1", Amount: 1250, PlacedAt: at.Add(time.Second)}
	high := domain.Bid{ID: "b4", AuctionCarID: "car-1", Amount: 1500, PlacedAt: at.Add(2 * time.Second)}

	apply := func(first, second domain.Bid) domain.AuctionViewState {
		d := seededDispatcher(t, &recordingHandler{})
		d.Dispatch(domain.ChannelBid, string(domain.EventNewLiveBid), args(t, second))
		d.Dispatch(domain.ChannelAuction, string(domain.EventHighestBidUpdated), args(t, domain.HighestBidUpdatedEvent{AuctionCarID: "car-1", Bid: first}))
		d.Dispatch(domain.ChannelAuction, string(domain.EventHighestBidUpdated), args(t, domain.HighestBidUpdatedEvent{AuctionCarID: "car-1", Bid: second}))
		d.Dispatch(domain.ChannelBid, string(domain.EventNewLiveBid), args(t, first))
		return d.View()
	}

	a := apply(low, high)
	b := apply(high, low)
	require.Equal(t, "b4", a.HighestBid.ID)
	require.Equal(t, a.HighestBid, b.HighestBid)
	require.Equal(t, a.BidHistory, b.BidHistory)
	require.Equal(t, "b4", a.BidHistory[0].ID)
	require.Equal(t, "b3", a.BidHistory[1].ID)
}

func TestDispatcherHistoryLimit(t *testing.T) {
	h := &recordingHandler{}
	d := seededDispatcher(t, h, WithHistoryLimit(3))

	for i, id := range []string{"c1", "c2", "c3", "c4"} {
		d.Dispatch(domain.ChannelBid, string(domain.EventPreBidPlaced), args(t, domain.Bid{ID: id, AuctionCarID: "car-1", Amount: float64(2000 + i)}))
	}

	view := d.View()
	require.Len(t, view.BidHistory, 3)
	require.Equal(t, "c4", view.BidHistory[0].ID)
	require.Equal(t, "c2", view.BidHistory[2].ID)
}

func TestDispatcherTimerExpiresOnce(t *testing.T) {
	h := &recordingHandler{}
	d := seededDispatcher(t, h)

	for _, remaining := range []int{2, 1, 0, 0} {
		d.Dispatch(domain.ChannelAuction, string(domain.EventTimerTick), args(t, domain.TimerTickEvent{AuctionCarID: "car-1", RemainingSeconds: remaining}))
	}
	require.Equal(t, []string{"car-1"}, h.expired)
	require.Zero(t, d.View().RemainingSeconds)

	d.Dispatch(domain.ChannelAuction, string(domain.EventTimerReset), args(t, domain.TimerResetEvent{AuctionCarID: "car-1", RemainingSeconds: 15}))
	require.Equal(t, 15, d.View().RemainingSeconds)
}

func TestDispatcherCarMovedUnseedsView(t *testing.T) {
	h := &recordingHandler{}
	d := seededDispatcher(t, h)

	d.Dispatch(domain.ChannelAuction, string(domain.EventCarMoved), args(t, domain.CarMovedEvent{AuctionID: "a1", PreviousAuctionCarID: "car-1", NextAuctionCarID: "car-2"}))

	view := d.View()
	require.False(t, view.Seeded)
	require.Equal(t, "car-2", view.AuctionCarID)
	require.Empty(t, view.BidHistory)
	require.Nil(t, view.HighestBid)
	require.Len(t, h.moved, 1)

	// A tick for the new car before its snapshot cannot expire anything.
	d.Dispatch(domain.ChannelAuction, string(domain.EventTimerTick), args(t, domain.TimerTickEvent{AuctionCarID: "car-2", RemainingSeconds: 0}))
	require.Empty(t, h.expired)
}

func TestDispatcherDropsMalformedAndUnknown(t *testing.T) {
	h := &recordingHandler{}
	d := seededDispatcher(t, h)
	before := d.View()

	d.Dispatch(domain.ChannelBid, string(domain.EventNewLiveBid), []json.RawMessage{json.RawMessage(`{"amount":"lots"}`)})
	d.Dispatch(domain.ChannelBid, "SomethingNew", args(t, map[string]int{"x": 1}))
	d.Dispatch(domain.ChannelBid, string(domain.EventNewLiveBid), nil)

	require.Equal(t, before, d.View())
	require.Empty(t, h.liveBids)
}

func TestDispatcherBidErrorLeavesView(t *testing.T) {
	h := &recordingHandler{}
	d := seededDispatcher(t, h)
	before := d.View()

	d.Dispatch(domain.ChannelBid, string(domain.EventBidError), args(t, domain.BidErrorEvent{AuctionCarID: "car-1", Code: "below_minimum", SuggestedAmount: 1250}))

	require.Equal(t, before, d.View())
	require.Len(t, h.errors, 1)
	require.Equal(t, 1250.0, h.errors[0].SuggestedAmount)
}

func TestDispatcherJournalsEvents(t *testing.T) {
	journal := &memoryJournal{entries: make(chan *domain.JournalEntry, 4)}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	h := &recordingHandler{}
	d := seededDispatcher(t, h, WithJournal(journal, "session-1"), WithDispatcherClock(clock))

	d.Dispatch(domain.ChannelBid, string(domain.EventNewLiveBid), args(t, domain.Bid{ID: "b9", AuctionCarID: "car-1", Amount: 1500}))

	var entries []*domain.JournalEntry
	for len(entries) < 2 {
		select {
		case e := <-journal.entries:
			entries = append(entries, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 2 journal entries, got %d", len(entries))
		}
	}

	var bidEntry *domain.JournalEntry
	for _, e := range entries {
		require.Equal(t, "session-1", e.SessionID)
		require.Equal(t, clock.Now(), e.ReceivedAt)
		if e.Kind == domain.EventNewLiveBid {
			bidEntry = e
		}
	}
	require.NotNil(t, bidEntry)
	require.Equal(t, 1500.0, bidEntry.Amount)
	require.Equal(t, "car-1", bidEntry.AuctionCarID)
	require.Equal(t, domain.ChannelBid, bidEntry.Channel)
}
