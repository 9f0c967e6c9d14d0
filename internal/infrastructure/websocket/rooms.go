package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"auction-sync/internal/domain"
	"auction-sync/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var (
	ErrPeerClosed = errors.New("peer connection closed")
	ErrPeerSlow   = errors.New("peer send buffer full")
)

// Peer is one client connection accepted by a HubServer.
type Peer struct {
	id        string
	principal string
	channel   domain.ChannelKind
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       logger.Logger
}

func newPeer(id, principal string, channel domain.ChannelKind, conn *websocket.Conn, buffer int, log logger.Logger) *Peer {
	return &Peer{
		id:        id,
		principal: principal,
		channel:   channel,
		conn:      conn,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
		log:       log,
	}
}

func (p *Peer) ID() string {
	return p.id
}

func (p *Peer) Principal() string {
	return p.principal
}

func (p *Peer) Channel() domain.ChannelKind {
	return p.channel
}

func (p *Peer) Send(frame []byte) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}

	select {
	case p.send <- frame:
		return nil
	default:
		return ErrPeerSlow
	}
}

// SendEvent pushes a single-argument event to this peer only.
func (p *Peer) SendEvent(target string, payload interface{}) error {
	frame, err := eventFrame(target, payload)
	if err != nil {
		return err
	}
	return p.Send(frame)
}

// Shutdown asks the client to go away. allowReconnect tells it whether to retry.
func (p *Peer) Shutdown(reason string, allowReconnect bool) {
	if frame, err := encodeFrame(&HubMessage{Type: CloseMessage, Error: reason, AllowReconnect: allowReconnect}); err == nil {
		_ = p.Send(frame)
	}
	p.close()
}

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

func (p *Peer) writePump(clock clockwork.Clock, pingInterval, writeTimeout time.Duration) {
	ping, _ := encodeFrame(&HubMessage{Type: PingMessage})
	ticker := clock.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	write := func(frame []byte) error {
		p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return p.conn.WriteMessage(websocket.TextMessage, frame)
	}

	for {
		select {
		case frame := <-p.send:
			if err := write(frame); err != nil {
				p.log.Debug("Peer write failed", "peer_id", p.id, "error", err)
				p.close()
				return
			}
		case <-ticker.Chan():
			if err := write(ping); err != nil {
				p.close()
				return
			}
		case <-p.done:
			for {
				select {
				case frame := <-p.send:
					if err := write(frame); err != nil {
						return
					}
				default:
					p.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeTimeout))
					return
				}
			}
		}
	}
}

func eventFrame(target string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return encodeFrame(&HubMessage{Type: InvocationMessage, Target: target, Arguments: []json.RawMessage{raw}})
}

// RoomManager tracks which peers are members of which (channel, group) room.
type RoomManager struct {
	rooms       map[domain.GroupKey]map[string]*Peer
	memberships map[string]map[domain.GroupKey]struct{} // peerID -> rooms
	peers       map[string]*Peer
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewRoomManager(log logger.Logger) *RoomManager {
	return &RoomManager{
		rooms:       make(map[domain.GroupKey]map[string]*Peer),
		memberships: make(map[string]map[domain.GroupKey]struct{}),
		peers:       make(map[string]*Peer),
		log:         log,
	}
}

func (rm *RoomManager) Register(peer *Peer) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	rm.peers[peer.id] = peer
	rm.memberships[peer.id] = make(map[domain.GroupKey]struct{})
	rm.log.Info("Peer registered", "peer_id", peer.id, "channel", peer.channel.String(), "principal", peer.principal)
}

func (rm *RoomManager) Unregister(peer *Peer) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	for key := range rm.memberships[peer.id] {
		rm.removeLocked(key, peer.id)
	}
	delete(rm.memberships, peer.id)
	delete(rm.peers, peer.id)
	rm.log.Info("Peer unregistered", "peer_id", peer.id, "channel", peer.channel.String())
}

func (rm *RoomManager) Join(group string, peer *Peer) {
	key := domain.GroupKey{GroupName: group, Channel: peer.channel}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.rooms[key] == nil {
		rm.rooms[key] = make(map[string]*Peer)
	}
	rm.rooms[key][peer.id] = peer
	if m, ok := rm.memberships[peer.id]; ok {
		m[key] = struct{}{}
	}
	rm.log.Debug("Peer joined group", "peer_id", peer.id, "group", group, "channel", peer.channel.String())
}

func (rm *RoomManager) Leave(group string, peer *Peer) {
	key := domain.GroupKey{GroupName: group, Channel: peer.channel}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	rm.removeLocked(key, peer.id)
	if m, ok := rm.memberships[peer.id]; ok {
		delete(m, key)
	}
	rm.log.Debug("Peer left group", "peer_id", peer.id, "group", group, "channel", peer.channel.String())
}

func (rm *RoomManager) removeLocked(key domain.GroupKey, peerID string) {
	if members, exists := rm.rooms[key]; exists {
		delete(members, peerID)
		if len(members) == 0 {
			delete(rm.rooms, key)
		}
	}
}

func (rm *RoomManager) Members(channel domain.ChannelKind, group string) []*Peer {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	var members []*Peer
	for _, peer := range rm.rooms[domain.GroupKey{GroupName: group, Channel: channel}] {
		members = append(members, peer)
	}
	return members
}

func (rm *RoomManager) PeerCount() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return len(rm.peers)
}

// BroadcastToGroup sends the event to every local member of the room.
// A failing peer does not stop delivery to the others.
func (rm *RoomManager) BroadcastToGroup(channel domain.ChannelKind, group, target string, payload interface{}) error {
	frame, err := eventFrame(target, payload)
	if err != nil {
		return err
	}

	members := rm.Members(channel, group)
	for _, peer := range members {
		if err := peer.Send(frame); err != nil {
			rm.log.Warn("Failed to deliver group event", "peer_id", peer.id, "group", group, "target", target, "error", err)
		}
	}
	rm.log.Debug("Broadcast to group", "group", group, "channel", channel.String(), "target", target, "members", len(members))
	return nil
}

// CloseAll tells every connected client to go away and drops all rooms.
func (rm *RoomManager) CloseAll(reason string, allowReconnect bool) {
	rm.mutex.Lock()
	peers := make([]*Peer, 0, len(rm.peers))
	for _, peer := range rm.peers {
		peers = append(peers, peer)
	}
	rm.rooms = make(map[domain.GroupKey]map[string]*Peer)
	rm.memberships = make(map[string]map[domain.GroupKey]struct{})
	rm.peers = make(map[string]*Peer)
	rm.mutex.Unlock()

	for _, peer := range peers {
		peer.Shutdown(reason, allowReconnect)
	}
	rm.log.Info("Closed all peers", "count", len(peers), "reason", reason)
}
