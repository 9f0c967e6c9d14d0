package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"auction-sync/internal/domain"
	"auction-sync/internal/instrumentation"
	"auction-sync/pkg/logger"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

type ManagerConfig struct {
	BaseURL            string          `mapstructure:"base_url"`
	AuctionChannelPath string          `mapstructure:"auction_channel_path"`
	BidChannelPath     string          `mapstructure:"bid_channel_path"`
	ConnectTimeout     time.Duration   `mapstructure:"connect_timeout"`
	WaitTimeout        time.Duration   `mapstructure:"wait_timeout"`
	InvokeTimeout      time.Duration   `mapstructure:"invoke_timeout"`
	HeartbeatInterval  time.Duration   `mapstructure:"heartbeat_interval"`
	RetryDelays        []time.Duration `mapstructure:"retry_delays"`
	MaxRetries         int             `mapstructure:"max_retries"`
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		AuctionChannelPath: "/auctionChannel",
		BidChannelPath:     "/bidChannel",
		ConnectTimeout:     15 * time.Second,
		WaitTimeout:        10 * time.Second,
		InvokeTimeout:      10 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		RetryDelays: []time.Duration{
			2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, 60 * time.Second,
		},
		MaxRetries: 5,
	}
}

func (c ManagerConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if c.AuctionChannelPath == "" || c.BidChannelPath == "" {
		return errors.New("channel paths are required")
	}
	if c.ConnectTimeout <= 0 || c.WaitTimeout <= 0 || c.InvokeTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if len(c.RetryDelays) == 0 {
		return errors.New("at least one retry delay is required")
	}
	for _, d := range c.RetryDelays {
		if d < 0 {
			return errors.New("retry delays must not be negative")
		}
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	return nil
}

func (c ManagerConfig) ChannelURL(kind domain.ChannelKind) string {
	path := c.AuctionChannelPath
	if kind == domain.ChannelBid {
		path = c.BidChannelPath
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// retryDelay returns the wait before the given (1-based) retry.
func (c ManagerConfig) retryDelay(retry int) time.Duration {
	idx := retry - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.RetryDelays) {
		idx = len(c.RetryDelays) - 1
	}
	return c.RetryDelays[idx]
}

type ManagerOption func(*ConnectionManager)

func WithClock(clock clockwork.Clock) ManagerOption {
	return func(m *ConnectionManager) {
		m.clock = clock
	}
}

func WithMetrics(metrics *instrumentation.Metrics) ManagerOption {
	return func(m *ConnectionManager) {
		m.metrics = metrics
	}
}

// WithStateListener registers fn for every state transition. Listeners run in
// order on the manager's event goroutine and may call back into the manager.
func WithStateListener(fn func(domain.StateChange)) ManagerOption {
	return func(m *ConnectionManager) {
		m.listeners = append(m.listeners, fn)
	}
}

// ConnectionManager owns the two push channels of one client session: their
// lifecycle, retry schedule, keep-alive and group subscriptions.
//
// All mutable state below the loop marker is owned by a single goroutine;
// public methods post closures to it.
type ConnectionManager struct {
	factory    domain.ChannelFactory
	network    domain.NetworkMonitor
	dispatcher *EventDispatcher
	registry   *GroupRegistry
	clock      clockwork.Clock
	metrics    *instrumentation.Metrics
	listeners  []func(domain.StateChange)
	log        logger.Logger

	ops      chan func()
	quit     chan struct{}
	loopDone chan struct{}
	closed   sync.Once
	events   *eventQueue

	cfg      atomic.Pointer[ManagerConfig]
	snapshot atomic.Pointer[domain.ConnectionInfo]
	attempt  atomic.Uint64

	changedMu sync.Mutex
	changed   chan struct{}

	chMu     sync.RWMutex
	channels map[domain.ChannelKind]domain.HubChannel

	// loop
	credentials   domain.CredentialProvider
	info          domain.ConnectionInfo
	attemptCancel context.CancelFunc
	attemptDone   chan struct{}
	retryTimer    clockwork.Timer
	heartbeatStop chan struct{}
	visible       bool
	channelUp     map[domain.ChannelKind]bool
}

func NewConnectionManager(factory domain.ChannelFactory, network domain.NetworkMonitor,
	dispatcher *EventDispatcher, log logger.Logger, opts ...ManagerOption) *ConnectionManager {
	m := &ConnectionManager{
		factory:    factory,
		network:    network,
		dispatcher: dispatcher,
		registry:   NewGroupRegistry(),
		clock:      clockwork.NewRealClock(),
		log:        log,
		ops:        make(chan func()),
		quit:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		events:     newEventQueue(),
		changed:    make(chan struct{}),
		channels:   make(map[domain.ChannelKind]domain.HubChannel),
		visible:    true,
		channelUp:  make(map[domain.ChannelKind]bool),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.info = domain.ConnectionInfo{State: domain.StateDisconnected, IsOnline: m.isOnline()}
	m.publishLocked()
	m.metrics.RecordState(domain.StateDisconnected)

	go m.run()
	go m.deliver()
	return m
}

func (m *ConnectionManager) run() {
	defer close(m.loopDone)
	for {
		select {
		case op := <-m.ops:
			op()
		case <-m.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (m *ConnectionManager) do(fn func()) error {
	return m.doContext(context.Background(), fn)
}

// doContext is do bounded by ctx while waiting for the loop to take fn.
// Once taken, fn runs to completion.
func (m *ConnectionManager) doContext(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case m.ops <- func() { fn(); close(done) }:
	case <-m.quit:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// post hands fn to the loop without waiting for it to run.
func (m *ConnectionManager) post(fn func()) {
	select {
	case m.ops <- fn:
	case <-m.quit:
	}
}

func (m *ConnectionManager) isClosed() bool {
	select {
	case <-m.quit:
		return true
	default:
		return false
	}
}

// Configure sets the endpoint, timeouts and credential source. It performs no I/O.
func (m *ConnectionManager) Configure(cfg ManagerConfig, credentials domain.CredentialProvider) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.RetryDelays = append([]time.Duration(nil), cfg.RetryDelays...)

	var err error
	if doErr := m.do(func() {
		switch m.info.State {
		case domain.StateDisconnected, domain.StateFailed:
		default:
			err = fmt.Errorf("cannot configure while %s", m.info.State)
			return
		}
		m.cfg.Store(&cfg)
		m.credentials = credentials
	}); doErr != nil {
		return doErr
	}
	return err
}

// Connect opens both channels. It returns once the first attempt finished;
// the outcome is reported through Info and state listeners, not the error.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	return m.connect(ctx, false)
}

// Reconnect drops the current channels, resets the retry count and connects again.
func (m *ConnectionManager) Reconnect(ctx context.Context) error {
	return m.connect(ctx, true)
}

func (m *ConnectionManager) connect(ctx context.Context, force bool) error {
	var (
		err  error
		done <-chan struct{}
	)
	if doErr := m.do(func() {
		if m.cfg.Load() == nil {
			err = ErrNotConfigured
			return
		}
		if force {
			m.info.RetryCount = 0
		}
		done = m.startAttemptLocked(force)
	}); doErr != nil {
		return doErr
	}
	if err != nil || done == nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.quit:
		return ErrManagerClosed
	}
}

func (m *ConnectionManager) startAttemptLocked(force bool) <-chan struct{} {
	if !force {
		switch m.info.State {
		case domain.StateConnecting, domain.StateConnected:
			return m.attemptDone
		}
	}

	cfg := m.cfg.Load()
	id := m.attempt.Add(1)
	m.cancelAttemptLocked()
	m.stopRetryTimerLocked()
	m.stopHeartbeatLocked()
	m.teardownChannelsLocked()

	done := make(chan struct{})
	m.attemptDone = done

	m.info.IsOnline = m.isOnline()
	if !m.info.IsOnline {
		m.recordErrorLocked(ErrOffline)
		m.log.Warn("Network offline, not connecting")
		m.setStateLocked(domain.StateFailed)
		close(done)
		return done
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.attemptCancel = cancel

	chans := make(map[domain.ChannelKind]domain.HubChannel, len(domain.Channels))
	for _, kind := range domain.Channels {
		ch := m.factory.NewChannel(kind, cfg.ChannelURL(kind), m.credentials)
		m.wireChannel(id, kind, ch)
		chans[kind] = ch
	}
	m.chMu.Lock()
	m.channels = chans
	m.chMu.Unlock()
	m.channelUp = make(map[domain.ChannelKind]bool)

	m.log.Info("Connecting", "base_url", cfg.BaseURL, "attempt", id, "retry_count", m.info.RetryCount)
	m.setStateLocked(domain.StateConnecting)

	timeout := cfg.ConnectTimeout
	go func() {
		err := m.openChannels(ctx, chans, timeout)
		m.post(func() {
			m.finishAttemptLocked(id, err)
			close(done)
		})
	}()
	return done
}

// openChannels starts both channels concurrently, each bounded by timeout.
func (m *ConnectionManager) openChannels(ctx context.Context, chans map[domain.ChannelKind]domain.HubChannel, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range domain.Channels {
		kind, ch := kind, chans[kind]
		g.Go(func() error {
			startCtx, cancel := context.WithCancel(gctx)
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- ch.Start(startCtx) }()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("%s channel: %w", kind, err)
				}
				return nil
			case <-m.clock.After(timeout):
				return fmt.Errorf("%s channel: connect timeout after %s", kind, timeout)
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

func (m *ConnectionManager) finishAttemptLocked(id uint64, err error) {
	if id != m.attempt.Load() {
		return
	}
	m.cancelAttemptLocked()

	if err != nil {
		m.metrics.RecordConnectAttempt(false)
		m.log.Warn("Connection attempt failed", "attempt", id, "error", err)
		m.handleFailureLocked(err)
		return
	}

	m.metrics.RecordConnectAttempt(true)
	now := m.clock.Now().UTC()
	m.info.RetryCount = 0
	m.info.LastConnectedAt = &now
	m.info.LastError = ""
	m.info.ErrorCategory = domain.ErrorNone
	for _, kind := range domain.Channels {
		m.channelUp[kind] = true
	}
	m.log.Info("Connected", "attempt", id)
	m.setStateLocked(domain.StateConnected)
	m.startHeartbeatLocked()

	for _, kind := range domain.Channels {
		m.replayLocked(id, kind)
	}
}

// handleFailureLocked drops the current channels and applies the retry policy.
func (m *ConnectionManager) handleFailureLocked(err error) {
	cfg := m.cfg.Load()
	id := m.attempt.Add(1)
	m.teardownChannelsLocked()
	m.recordErrorLocked(err)
	m.stopHeartbeatLocked()

	m.info.RetryCount++
	if m.info.RetryCount > cfg.MaxRetries {
		m.log.Error("Giving up after retries", "retry_count", m.info.RetryCount, "error", err)
		m.setStateLocked(domain.StateFailed)
		return
	}

	delay := cfg.retryDelay(m.info.RetryCount)
	m.retryTimer = m.clock.AfterFunc(delay, func() {
		m.post(func() {
			if id != m.attempt.Load() || m.info.State != domain.StateReconnecting {
				return
			}
			m.retryTimer = nil
			m.startAttemptLocked(true)
		})
	})
	m.metrics.RecordRetryArmed()
	m.log.Info("Retry scheduled", "retry_count", m.info.RetryCount, "delay", delay.String())
	m.setStateLocked(domain.StateReconnecting)
}

func (m *ConnectionManager) wireChannel(id uint64, kind domain.ChannelKind, ch domain.HubChannel) {
	ch.OnEvent(func(target string, args []json.RawMessage) {
		m.events.push(queued{attempt: id, channel: kind, target: target, args: args})
	})
	ch.OnReconnecting(func(err error) {
		m.post(func() { m.channelReconnectingLocked(id, kind, err) })
	})
	ch.OnReconnected(func() {
		m.post(func() { m.channelReconnectedLocked(id, kind) })
	})
	ch.OnClosed(func(err error) {
		m.post(func() { m.channelClosedLocked(id, kind, err) })
	})
}

func (m *ConnectionManager) channelReconnectingLocked(id uint64, kind domain.ChannelKind, err error) {
	if id != m.attempt.Load() {
		return
	}
	if m.info.State != domain.StateConnected && m.info.State != domain.StateReconnecting {
		return
	}
	m.channelUp[kind] = false
	if err != nil {
		m.recordErrorLocked(err)
	}
	m.log.Warn("Channel reconnecting", "channel", kind.String(), "error", err)
	m.setStateLocked(domain.StateReconnecting)
}

func (m *ConnectionManager) channelReconnectedLocked(id uint64, kind domain.ChannelKind) {
	if id != m.attempt.Load() || m.info.State != domain.StateReconnecting {
		return
	}
	m.channelUp[kind] = true
	m.log.Info("Channel reconnected", "channel", kind.String())
	m.replayLocked(id, kind)

	for _, k := range domain.Channels {
		if !m.channelUp[k] {
			return
		}
	}
	now := m.clock.Now().UTC()
	m.info.LastConnectedAt = &now
	m.setStateLocked(domain.StateConnected)
}

func (m *ConnectionManager) channelClosedLocked(id uint64, kind domain.ChannelKind, err error) {
	if id != m.attempt.Load() {
		return
	}
	if m.info.State != domain.StateConnected && m.info.State != domain.StateReconnecting {
		return
	}
	if err == nil {
		err = fmt.Errorf("%s channel closed", kind)
	}
	m.log.Warn("Channel closed", "channel", kind.String(), "error", err)
	m.handleFailureLocked(err)
}

// replayLocked re-issues every registered group of one channel. Joins already
// active server-side are harmless.
func (m *ConnectionManager) replayLocked(id uint64, kind domain.ChannelKind) {
	groups := m.registry.ForChannel(kind)
	if len(groups) == 0 {
		return
	}
	m.chMu.RLock()
	ch := m.channels[kind]
	m.chMu.RUnlock()
	if ch == nil {
		return
	}

	timeout := m.cfg.Load().InvokeTimeout
	m.metrics.RecordReplay(kind, len(groups))
	m.log.Info("Replaying group subscriptions", "channel", kind.String(), "count", len(groups))

	go func() {
		for _, group := range groups {
			if id != m.attempt.Load() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			_, err := ch.Invoke(ctx, domain.MethodJoinGroup, group)
			cancel()
			if err != nil {
				m.log.Warn("Failed to replay group", "channel", kind.String(), "group", group, "error", err)
			}
		}
	}()
}

// Disconnect stops everything and forgets all subscriptions. Safe to repeat.
// ctx bounds the wait for the manager loop.
func (m *ConnectionManager) Disconnect(ctx context.Context) error {
	return m.doContext(ctx, func() {
		m.disconnectLocked()
	})
}

func (m *ConnectionManager) disconnectLocked() {
	m.attempt.Add(1)
	m.cancelAttemptLocked()
	m.stopRetryTimerLocked()
	m.stopHeartbeatLocked()
	m.teardownChannelsLocked()
	m.registry.Clear()
	m.dispatcher.Reset()
	m.events.push(queued{reset: true})
	m.info.RetryCount = 0
	m.setStateLocked(domain.StateDisconnected)
}

// Destroy disconnects and stops the manager. Every later call returns ErrManagerClosed.
func (m *ConnectionManager) Destroy() {
	if err := m.do(m.disconnectLocked); err != nil {
		return
	}
	m.closed.Do(func() {
		close(m.quit)
	})
	<-m.loopDone
	m.log.Info("Connection manager destroyed")
}

// HandleNetworkChange records connectivity; regaining it while failed or
// waiting for a retry starts an attempt right away.
func (m *ConnectionManager) HandleNetworkChange(online bool) {
	_ = m.do(func() {
		m.info.IsOnline = online
		m.publishLocked()
		if !online || m.cfg.Load() == nil {
			return
		}
		switch m.info.State {
		case domain.StateFailed, domain.StateReconnecting:
			m.log.Info("Network restored, reconnecting", "state", m.info.State.String())
			m.startAttemptLocked(true)
		}
	})
}

// SetVisible pauses keep-alive pings while the session is in the background.
func (m *ConnectionManager) SetVisible(visible bool) {
	_ = m.do(func() {
		m.visible = visible
		if visible {
			m.keepAliveLocked()
		}
	})
}

func (m *ConnectionManager) JoinGroup(ctx context.Context, group string, channel domain.ChannelKind) error {
	if group == "" {
		return errors.New("group name is required")
	}
	if err := m.awaitUsable(ctx); err != nil {
		return err
	}

	added := m.registry.Add(group, channel, m.clock.Now().UTC())
	if _, err := m.Invoke(ctx, channel, domain.MethodJoinGroup, group); err != nil {
		if added {
			m.registry.Remove(group, channel)
		}
		return fmt.Errorf("join group %s: %w", group, err)
	}
	m.log.Info("Joined group", "group", group, "channel", channel.String())
	return nil
}

func (m *ConnectionManager) LeaveGroup(ctx context.Context, group string, channel domain.ChannelKind) error {
	if group == "" {
		return errors.New("group name is required")
	}
	if err := m.awaitUsable(ctx); err != nil {
		return err
	}

	if _, err := m.Invoke(ctx, channel, domain.MethodLeaveGroup, group); err != nil {
		return fmt.Errorf("leave group %s: %w", group, err)
	}
	m.registry.Remove(group, channel)
	m.log.Info("Left group", "group", group, "channel", channel.String())
	return nil
}

// awaitUsable fails fast when no connection is being pursued and otherwise
// waits a bounded time for one.
func (m *ConnectionManager) awaitUsable(ctx context.Context) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	cfg := m.cfg.Load()
	if cfg == nil {
		return ErrNotConfigured
	}
	switch m.Info().State {
	case domain.StateConnected:
		return nil
	case domain.StateDisconnected, domain.StateFailed:
		return ErrConnectionUnavailable
	}
	if !m.WaitForConnection(ctx, cfg.WaitTimeout) {
		return fmt.Errorf("%w: not connected after %s", ErrConnectionUnavailable, cfg.WaitTimeout)
	}
	return nil
}

// Invoke calls a remote method on one channel. It is rejected unless connected.
func (m *ConnectionManager) Invoke(ctx context.Context, channel domain.ChannelKind, method string, args ...interface{}) (json.RawMessage, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	if m.Info().State != domain.StateConnected {
		return nil, ErrConnectionUnavailable
	}

	m.chMu.RLock()
	ch := m.channels[channel]
	m.chMu.RUnlock()
	if ch == nil {
		return nil, ErrConnectionUnavailable
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Load().InvokeTimeout)
		defer cancel()
	}
	return ch.Invoke(ctx, method, args...)
}

func (m *ConnectionManager) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	return m.WaitForState(ctx, domain.StateConnected, timeout)
}

// WaitForState blocks until the target state, the timeout or ctx, whichever
// comes first. It never hangs past timeout.
func (m *ConnectionManager) WaitForState(ctx context.Context, target domain.ConnectionState, timeout time.Duration) bool {
	deadline := m.clock.After(timeout)
	for {
		changed := m.changedChan()
		if m.Info().State == target {
			return true
		}
		select {
		case <-changed:
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		case <-m.quit:
			return m.Info().State == target
		}
	}
}

// Info returns a copy of the current connection information.
func (m *ConnectionManager) Info() domain.ConnectionInfo {
	if info := m.snapshot.Load(); info != nil {
		return *info
	}
	return domain.ConnectionInfo{}
}

func (m *ConnectionManager) Subscriptions() []domain.GroupSubscription {
	return m.registry.Snapshot()
}

func (m *ConnectionManager) View() domain.AuctionViewState {
	return m.dispatcher.View()
}

func (m *ConnectionManager) changedChan() <-chan struct{} {
	m.changedMu.Lock()
	defer m.changedMu.Unlock()
	return m.changed
}

func (m *ConnectionManager) setStateLocked(state domain.ConnectionState) {
	prev := m.info.State
	m.info.State = state
	m.publishLocked()
	m.metrics.RecordState(state)

	if prev != state {
		m.log.Debug("State changed", "from", prev.String(), "to", state.String())
		if len(m.listeners) > 0 {
			m.events.push(queued{change: &domain.StateChange{Previous: prev, Current: state, Info: m.info}})
		}
	}
}

// publishLocked makes the current info visible to readers and wakes waiters.
func (m *ConnectionManager) publishLocked() {
	info := m.info
	m.snapshot.Store(&info)

	m.changedMu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.changedMu.Unlock()
}

func (m *ConnectionManager) recordErrorLocked(err error) {
	now := m.clock.Now().UTC()
	m.info.LastError = err.Error()
	m.info.ErrorCategory = ClassifyError(err)
	m.info.LastErrorAt = &now
}

func (m *ConnectionManager) cancelAttemptLocked() {
	if m.attemptCancel != nil {
		m.attemptCancel()
		m.attemptCancel = nil
	}
}

func (m *ConnectionManager) stopRetryTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *ConnectionManager) teardownChannelsLocked() {
	m.chMu.Lock()
	chans := m.channels
	m.channels = make(map[domain.ChannelKind]domain.HubChannel)
	m.chMu.Unlock()
	m.channelUp = make(map[domain.ChannelKind]bool)

	for kind, ch := range chans {
		if err := ch.Stop(); err != nil {
			m.log.Debug("Error stopping channel", "channel", kind.String(), "error", err)
		}
	}
}

// startHeartbeatLocked pings both channels every HeartbeatInterval on the
// manager clock until stopped.
func (m *ConnectionManager) startHeartbeatLocked() {
	if m.heartbeatStop != nil {
		return
	}
	stop := make(chan struct{})
	m.heartbeatStop = stop
	ticker := m.clock.NewTicker(m.cfg.Load().HeartbeatInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				m.post(m.keepAliveLocked)
			case <-stop:
				return
			case <-m.quit:
				return
			}
		}
	}()
}

func (m *ConnectionManager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

func (m *ConnectionManager) keepAliveLocked() {
	if !m.visible || m.info.State != domain.StateConnected {
		return
	}
	m.chMu.RLock()
	defer m.chMu.RUnlock()

	timeout := m.cfg.Load().InvokeTimeout
	for kind, ch := range m.channels {
		kind, ch := kind, ch
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if _, err := ch.Invoke(ctx, domain.MethodPing); err != nil {
				m.log.Debug("Keep-alive ping failed", "channel", kind.String(), "error", err)
			}
		}()
	}
}

func (m *ConnectionManager) isOnline() bool {
	return m.network == nil || m.network.IsOnline()
}

// deliver runs push events and state listeners off the loop, in arrival order.
func (m *ConnectionManager) deliver() {
	for {
		select {
		case <-m.events.signal:
			for _, item := range m.events.drain() {
				switch {
				case item.reset:
					m.dispatcher.Reset()
				case item.change != nil:
					for _, fn := range m.listeners {
						fn(*item.change)
					}
				case item.attempt == m.attempt.Load():
					m.dispatcher.Dispatch(item.channel, item.target, item.args)
				}
			}
		case <-m.quit:
			return
		}
	}
}

type queued struct {
	attempt uint64
	channel domain.ChannelKind
	target  string
	args    []json.RawMessage
	change  *domain.StateChange
	reset   bool
}

// eventQueue is an unbounded FIFO so producers never block on slow handlers.
type eventQueue struct {
	mu     sync.Mutex
	items  []queued
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(item queued) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
