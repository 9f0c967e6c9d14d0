package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"auction-sync/internal/domain"
	"auction-sync/pkg/logger"
	"auction-sync/pkg/utils"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// MethodFunc serves one remote procedure. The returned value becomes the
// completion result; an error is reported to the caller as its message.
type MethodFunc func(ctx context.Context, peer *Peer, args []json.RawMessage) (interface{}, error)

// Authenticator resolves the principal behind a bearer token.
type Authenticator func(token string) (string, error)

type ServerConfig struct {
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
	Clock            clockwork.Clock
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:     15 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		SendBuffer:       256,
		Clock:            clockwork.NewRealClock(),
	}
}

type ServerOption func(*HubServer)

func WithAuthenticator(auth Authenticator) ServerOption {
	return func(s *HubServer) {
		s.authenticate = auth
	}
}

func WithMethod(name string, fn MethodFunc) ServerOption {
	return func(s *HubServer) {
		s.methods[name] = fn
	}
}

// WithGroupJoinedHook runs after a peer joined a group, typically to push the
// room's snapshot to it.
func WithGroupJoinedHook(fn func(peer *Peer, group string)) ServerOption {
	return func(s *HubServer) {
		s.onJoined = fn
	}
}

// HubServer accepts clients for one channel kind.
type HubServer struct {
	channel      domain.ChannelKind
	rooms        *RoomManager
	upgrader     websocket.Upgrader
	authenticate Authenticator
	methods      map[string]MethodFunc
	onJoined     func(peer *Peer, group string)
	cfg          ServerConfig
	log          logger.Logger
}

func NewHubServer(channel domain.ChannelKind, rooms *RoomManager, cfg ServerConfig, log logger.Logger, opts ...ServerOption) *HubServer {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	s := &HubServer{
		channel: channel,
		rooms:   rooms,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		methods: make(map[string]MethodFunc),
		cfg:     cfg,
		log:     log.With("channel", channel.String()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HubServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := "anonymous"
	if s.authenticate != nil {
		p, err := s.authenticate(bearerToken(r))
		if err != nil {
			s.log.Warn("Rejected connection", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		principal = p
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	if err := s.acceptHandshake(conn); err != nil {
		s.log.Warn("Handshake failed", "remote", r.RemoteAddr, "error", err)
		conn.Close()
		return
	}

	peer := newPeer(utils.GenerateID("peer"), principal, s.channel, conn, s.cfg.SendBuffer, s.log)
	s.rooms.Register(peer)
	go peer.writePump(s.cfg.Clock, s.cfg.PingInterval, s.cfg.WriteTimeout)

	s.readLoop(peer)
}

func (s *HubServer) acceptHandshake(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	conn.SetReadDeadline(time.Time{})

	var req handshakeRequest
	frames := splitFrames(data)
	if len(frames) == 0 {
		return errors.New("empty handshake")
	}
	if err := json.Unmarshal(frames[0], &req); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}

	resp := handshakeResponse{}
	if req.Protocol != protocolName || req.Version != protocolVersion {
		resp.Error = fmt.Sprintf("unsupported protocol %s/%d", req.Protocol, req.Version)
	}

	frame, err := encodeFrame(resp)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Time{})

	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

func (s *HubServer) readLoop(peer *Peer) {
	defer func() {
		s.rooms.Unregister(peer)
		peer.close()
	}()

	for {
		_, data, err := peer.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("Peer read failed", "peer_id", peer.id, "error", err)
			}
			return
		}

		for _, frame := range splitFrames(data) {
			var msg HubMessage
			if err := json.Unmarshal(frame, &msg); err != nil {
				s.log.Warn("Dropping malformed frame", "peer_id", peer.id, "error", err)
				continue
			}

			switch msg.Type {
			case InvocationMessage:
				s.handleInvocation(peer, &msg)
			case CloseMessage:
				return
			}
		}
	}
}

func (s *HubServer) handleInvocation(peer *Peer, msg *HubMessage) {
	result, err := s.invoke(peer, msg)

	if msg.InvocationID == "" {
		return
	}

	completion := &HubMessage{Type: CompletionMessage, InvocationID: msg.InvocationID}
	if err != nil {
		completion.Error = err.Error()
	} else if result != nil {
		raw, mErr := json.Marshal(result)
		if mErr != nil {
			completion.Error = mErr.Error()
		} else {
			completion.Result = raw
		}
	}

	frame, err := encodeFrame(completion)
	if err != nil {
		s.log.Error("Failed to encode completion", "error", err)
		return
	}
	if err := peer.Send(frame); err != nil {
		s.log.Warn("Failed to send completion", "peer_id", peer.id, "target", msg.Target, "error", err)
	}
}

func (s *HubServer) invoke(peer *Peer, msg *HubMessage) (interface{}, error) {
	switch msg.Target {
	case domain.MethodPing:
		return nil, nil
	case domain.MethodJoinGroup, domain.MethodLeaveGroup:
		group, err := groupArgument(msg.Arguments)
		if err != nil {
			return nil, err
		}
		if msg.Target == domain.MethodLeaveGroup {
			s.rooms.Leave(group, peer)
			return nil, nil
		}
		s.rooms.Join(group, peer)
		if s.onJoined != nil {
			s.onJoined(peer, group)
		}
		return nil, nil
	}

	fn, ok := s.methods[msg.Target]
	if !ok {
		return nil, fmt.Errorf("unknown method %s", msg.Target)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	return fn(ctx, peer, msg.Arguments)
}

func groupArgument(args []json.RawMessage) (string, error) {
	if len(args) == 0 {
		return "", errors.New("group name required")
	}
	var group string
	if err := json.Unmarshal(args[0], &group); err != nil {
		return "", fmt.Errorf("decode group name: %w", err)
	}
	if group == "" {
		return "", errors.New("group name required")
	}
	return group, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}
