package instrumentation

import (
	"auction-sync/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors of the sync client. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ConnectionState *prometheus.GaugeVec
	ConnectAttempts *prometheus.CounterVec
	RetriesArmed    prometheus.Counter
	GroupReplays    *prometheus.CounterVec
	EventsReceived  *prometheus.CounterVec
	BidsSent        *prometheus.CounterVec
	BidsRejected    *prometheus.CounterVec
	JournalErrors   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "auction_sync_connection_state",
			Help: "1 for the current connection state, 0 for the others",
		}, []string{"state"}),

		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_sync_connect_attempts_total",
			Help: "Connection attempts by outcome",
		}, []string{"outcome"}),

		RetriesArmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "auction_sync_retries_scheduled_total",
			Help: "Number of retry timers armed after a failed attempt",
		}),

		GroupReplays: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_sync_group_replays_total",
			Help: "Group joins re-issued after a reconnection",
		}, []string{"channel"}),

		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_sync_events_received_total",
			Help: "Push events received by channel and kind",
		}, []string{"channel", "kind"}),

		BidsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_sync_bids_sent_total",
			Help: "Bid placement calls sent by method and result",
		}, []string{"method", "result"}),

		BidsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_sync_bids_rejected_locally_total",
			Help: "Bids rejected by local validation before sending",
		}, []string{"reason"}),

		JournalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "auction_sync_journal_errors_total",
			Help: "Failed event journal writes",
		}),
	}
}

func (m *Metrics) RecordState(state domain.ConnectionState) {
	if m == nil {
		return
	}
	for _, s := range []domain.ConnectionState{
		domain.StateDisconnected, domain.StateConnecting, domain.StateConnected,
		domain.StateReconnecting, domain.StateFailed,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) RecordConnectAttempt(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRetryArmed() {
	if m == nil {
		return
	}
	m.RetriesArmed.Inc()
}

func (m *Metrics) RecordReplay(channel domain.ChannelKind, groups int) {
	if m == nil {
		return
	}
	m.GroupReplays.WithLabelValues(channel.String()).Add(float64(groups))
}

func (m *Metrics) RecordEvent(channel domain.ChannelKind, kind string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(channel.String(), kind).Inc()
}

func (m *Metrics) RecordBidSent(method string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "error"
	}
	m.BidsSent.WithLabelValues(method, result).Inc()
}

func (m *Metrics) RecordBidRejected(reason string) {
	if m == nil {
		return
	}
	m.BidsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordJournalError() {
	if m == nil {
		return
	}
	m.JournalErrors.Inc()
}
