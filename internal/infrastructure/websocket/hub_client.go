package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"auction-sync/internal/domain"
	"auction-sync/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var (
	ErrNotConnected   = errors.New("hub channel is not connected")
	ErrChannelStopped = errors.New("hub channel stopped")
)

type ClientConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ServerTimeout closes the connection when nothing, not even a ping, arrives in time.
	ServerTimeout time.Duration
	// ReconnectDelays drives the transport's own reconnection. Empty disables it.
	ReconnectDelays []time.Duration
	ReadLimit       int64
	Clock           clockwork.Clock
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ServerTimeout:    30 * time.Second,
		ReconnectDelays:  []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second},
		ReadLimit:        1 << 20,
		Clock:            clockwork.NewRealClock(),
	}
}

// HubConnection is one duplex push channel. It is single use: once stopped it
// cannot be started again.
type HubConnection struct {
	url         string
	credentials domain.CredentialProvider
	dialer      *websocket.Dialer
	cfg         ClientConfig
	log         logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
	stopCh  chan struct{}

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *HubMessage

	handlersMu     sync.RWMutex
	onEvent        func(target string, args []json.RawMessage)
	onReconnecting func(err error)
	onReconnected  func()
	onClosed       func(err error)
}

func NewHubConnection(rawURL string, credentials domain.CredentialProvider, cfg ClientConfig, log logger.Logger) *HubConnection {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &HubConnection{
		url:         rawURL,
		credentials: credentials,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		cfg:     cfg,
		log:     log,
		stopCh:  make(chan struct{}),
		pending: make(map[string]chan *HubMessage),
	}
}

func (h *HubConnection) OnEvent(fn func(target string, args []json.RawMessage)) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.onEvent = fn
}

func (h *HubConnection) OnReconnecting(fn func(err error)) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.onReconnecting = fn
}

func (h *HubConnection) OnReconnected(fn func()) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.onReconnected = fn
}

func (h *HubConnection) OnClosed(fn func(err error)) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.onClosed = fn
}

func (h *HubConnection) Start(ctx context.Context) error {
	if h.isStopped() {
		return ErrChannelStopped
	}

	conn, err := h.dial(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.Close()
		return ErrChannelStopped
	}
	h.conn = conn
	h.mu.Unlock()

	h.log.Debug("Hub channel connected", "url", h.url)
	go h.readLoop(conn)
	return nil
}

func (h *HubConnection) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	close(h.stopCh)
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	h.failPending(ErrChannelStopped)

	if conn == nil {
		return nil
	}

	h.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	h.writeMu.Unlock()

	return conn.Close()
}

func (h *HubConnection) Invoke(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	msg, err := newInvocation(id, method, args...)
	if err != nil {
		return nil, err
	}

	respCh := make(chan *HubMessage, 1)
	h.pendingMu.Lock()
	h.pending[id] = respCh
	h.pendingMu.Unlock()

	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
	}()

	if err := h.send(msg); err != nil {
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return nil, &HubError{Method: method, Message: resp.Error}
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.stopCh:
		return nil, ErrChannelStopped
	}
}

func (h *HubConnection) dial(ctx context.Context) (*websocket.Conn, error) {
	token := ""
	if h.credentials != nil {
		t, err := h.credentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve credential: %w", err)
		}
		token = t
	}

	u, err := url.Parse(h.url)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	header := http.Header{}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := h.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeStatusError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}

	if err := h.handshake(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}
	return conn, nil
}

func (h *HubConnection) handshake(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(h.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	frame, err := encodeFrame(handshakeRequest{Protocol: protocolName, Version: protocolVersion})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	frames := splitFrames(data)
	if len(frames) == 0 {
		return errors.New("empty handshake response")
	}

	var resp handshakeResponse
	if err := json.Unmarshal(frames[0], &resp); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("handshake rejected: %s", resp.Error)
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	return nil
}

func (h *HubConnection) send(msg *HubMessage) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (h *HubConnection) readLoop(conn *websocket.Conn) {
	for {
		if h.cfg.ServerTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(h.cfg.ServerTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.connectionLost(conn, err, true)
			return
		}

		for _, frame := range splitFrames(data) {
			var msg HubMessage
			if err := json.Unmarshal(frame, &msg); err != nil {
				h.log.Warn("Dropping malformed hub frame", "error", err)
				continue
			}

			switch msg.Type {
			case InvocationMessage:
				h.emitEvent(msg.Target, msg.Arguments)
			case CompletionMessage:
				h.complete(&msg)
			case PingMessage:
			case CloseMessage:
				reason := "server closed the connection"
				if msg.Error != "" {
					reason = reason + ": " + msg.Error
				}
				conn.Close()
				h.connectionLost(conn, errors.New(reason), msg.AllowReconnect)
				return
			}
		}
	}
}

func (h *HubConnection) connectionLost(conn *websocket.Conn, err error, allowReconnect bool) {
	h.mu.Lock()
	if h.stopped || h.conn != conn {
		h.mu.Unlock()
		return
	}
	h.conn = nil
	h.mu.Unlock()

	conn.Close()
	h.failPending(err)

	if !allowReconnect || len(h.cfg.ReconnectDelays) == 0 {
		h.log.Warn("Hub channel closed", "url", h.url, "error", err)
		h.fireClosed(err)
		return
	}

	h.log.Warn("Hub channel lost, reconnecting", "url", h.url, "error", err)
	h.fireReconnecting(err)
	go h.reconnectLoop(err)
}

func (h *HubConnection) reconnectLoop(lastErr error) {
	for i, delay := range h.cfg.ReconnectDelays {
		if delay > 0 {
			select {
			case <-h.cfg.Clock.After(delay):
			case <-h.stopCh:
				return
			}
		}
		if h.isStopped() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.HandshakeTimeout)
		conn, err := h.dial(ctx)
		cancel()
		if err != nil {
			lastErr = err
			h.log.Warn("Hub channel reconnect attempt failed", "attempt", i+1, "error", err)
			continue
		}

		h.mu.Lock()
		if h.stopped {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.conn = conn
		h.mu.Unlock()

		h.log.Info("Hub channel reconnected", "url", h.url, "attempt", i+1)
		h.fireReconnected()
		go h.readLoop(conn)
		return
	}

	h.fireClosed(lastErr)
}

func (h *HubConnection) complete(msg *HubMessage) {
	h.pendingMu.Lock()
	respCh, ok := h.pending[msg.InvocationID]
	h.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case respCh <- msg:
	default:
	}
}

func (h *HubConnection) failPending(err error) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	for id, respCh := range h.pending {
		select {
		case respCh <- &HubMessage{Type: CompletionMessage, InvocationID: id, Error: "connection lost: " + err.Error()}:
		default:
		}
	}
}

func (h *HubConnection) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *HubConnection) emitEvent(target string, args []json.RawMessage) {
	h.handlersMu.RLock()
	fn := h.onEvent
	h.handlersMu.RUnlock()
	if fn != nil {
		fn(target, args)
	}
}

func (h *HubConnection) fireReconnecting(err error) {
	h.handlersMu.RLock()
	fn := h.onReconnecting
	h.handlersMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (h *HubConnection) fireReconnected() {
	h.handlersMu.RLock()
	fn := h.onReconnected
	h.handlersMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (h *HubConnection) fireClosed(err error) {
	h.handlersMu.RLock()
	fn := h.onClosed
	h.handlersMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// HubDialer builds HubConnections for the connection manager.
type HubDialer struct {
	cfg ClientConfig
	log logger.Logger
}

func NewHubDialer(cfg ClientConfig, log logger.Logger) *HubDialer {
	return &HubDialer{cfg: cfg, log: log}
}

func (d *HubDialer) NewChannel(kind domain.ChannelKind, rawURL string, credentials domain.CredentialProvider) domain.HubChannel {
	return NewHubConnection(toWebSocketURL(rawURL), credentials, d.cfg, d.log.With("channel", kind.String()))
}

func toWebSocketURL(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		return "wss://" + strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		return "ws://" + strings.TrimPrefix(rawURL, "http://")
	default:
		return rawURL
	}
}
