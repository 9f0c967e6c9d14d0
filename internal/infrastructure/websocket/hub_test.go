package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"auction-sync/internal/domain"
	"auction-sync/pkg/logger"

	"github.com/stretchr/testify/require"
)

type pushed struct {
	target string
	args   []json.RawMessage
}

func testClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.ReconnectDelays = nil
	cfg.HandshakeTimeout = 2 * time.Second
	return cfg
}

func startHub(t *testing.T, channel domain.ChannelKind, opts ...ServerOption) (*RoomManager, string) {
	t.Helper()
	rooms := NewRoomManager(logger.NewNop())
	opts = append([]ServerOption{WithAuthenticator(TokenAuthenticator(map[string]string{"token-1": "bidder-1"}))}, opts...)
	server := NewHubServer(channel, rooms, DefaultServerConfig(), logger.NewNop(), opts...)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return rooms, ts.URL
}

func dialHub(t *testing.T, rawURL, token string) (*HubConnection, chan pushed) {
	t.Helper()
	conn := NewHubConnection(toWebSocketURL(rawURL), domain.StaticCredential(token), testClientConfig(), logger.NewNop())
	events := make(chan pushed, 16)
	conn.OnEvent(func(target string, args []json.RawMessage) {
		events <- pushed{target: target, args: args}
	})
	t.Cleanup(func() { _ = conn.Stop() })
	return conn, events
}

func nextEvent(t *testing.T, events chan pushed) pushed {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return pushed{}
	}
}

func TestHubRoundTrip(t *testing.T) {
	rooms, url := startHub(t, domain.ChannelBid,
		WithMethod("WhoAmI", func(_ context.Context, peer *Peer, _ []json.RawMessage) (interface{}, error) {
			return peer.Principal(), nil
		}),
	)
	conn, events := dialHub(t, url, "token-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Start(ctx))

	result, err := conn.Invoke(ctx, "WhoAmI")
	require.NoError(t, err)
	require.JSONEq(t, `"bidder-1"`, string(result))

	_, err = conn.Invoke(ctx, domain.MethodJoinGroup, domain.AuctionCarGroup("car-1"))
	require.NoError(t, err)
	require.Len(t, rooms.Members(domain.ChannelBid, domain.AuctionCarGroup("car-1")), 1)
	require.Empty(t, rooms.Members(domain.ChannelAuction, domain.AuctionCarGroup("car-1")), "rooms are per channel")

	require.NoError(t, rooms.BroadcastToGroup(domain.ChannelBid, domain.AuctionCarGroup("car-1"),
		string(domain.EventNewLiveBid), domain.Bid{ID: "b1", AuctionCarID: "car-1", Amount: 1500}))

	ev := nextEvent(t, events)
	require.Equal(t, string(domain.EventNewLiveBid), ev.target)
	var bid domain.Bid
	require.NoError(t, json.Unmarshal(ev.args[0], &bid))
	require.Equal(t, "b1", bid.ID)

	_, err = conn.Invoke(ctx, domain.MethodLeaveGroup, domain.AuctionCarGroup("car-1"))
	require.NoError(t, err)
	require.Empty(t, rooms.Members(domain.ChannelBid, domain.AuctionCarGroup("car-1")))

	_, err = conn.Invoke(ctx, "NoSuchMethod")
	var hubErr *HubError
	require.ErrorAs(t, err, &hubErr)
	require.Equal(t, "NoSuchMethod", hubErr.Method)

	_, err = conn.Invoke(ctx, domain.MethodJoinGroup)
	require.ErrorAs(t, err, &hubErr, "group name is required")

	require.NoError(t, conn.Stop())
	_, err = conn.Invoke(ctx, domain.MethodPing)
	require.Error(t, err)
	require.ErrorIs(t, conn.Start(ctx), ErrChannelStopped)
}

func TestHubRejectsUnknownToken(t *testing.T) {
	_, url := startHub(t, domain.ChannelAuction)
	conn, _ := dialHub(t, url, "wrong")

	err := conn.Start(context.Background())
	var statusErr *HandshakeStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 401, statusErr.HTTPStatus())
}

func TestHubServerShutdownClosesClient(t *testing.T) {
	rooms, url := startHub(t, domain.ChannelAuction)
	conn, _ := dialHub(t, url, "token-1")

	closed := make(chan error, 1)
	conn.OnClosed(func(err error) { closed <- err })

	require.NoError(t, conn.Start(context.Background()))
	require.Eventually(t, func() bool { return rooms.PeerCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	rooms.CloseAll("server restarting", false)

	select {
	case err := <-closed:
		require.ErrorContains(t, err, "server restarting")
	case <-time.After(2 * time.Second):
		t.Fatal("client was not closed")
	}
}

func TestSplitFrames(t *testing.T) {
	data := []byte("{\"type\":6}\x1e\x1e  \x1e{\"type\":1,\"target\":\"TimerTick\"}\x1e")
	frames := splitFrames(data)
	require.Len(t, frames, 2)

	var msg HubMessage
	require.NoError(t, json.Unmarshal(frames[1], &msg))
	require.Equal(t, InvocationMessage, msg.Type)
	require.Equal(t, "TimerTick", msg.Target)

	require.Empty(t, splitFrames(nil))
}

func TestToWebSocketURL(t *testing.T) {
	require.Equal(t, "wss://hub.example.com/hubs/bidChannel", toWebSocketURL("https://hub.example.com/hubs/bidChannel"))
	require.Equal(t, "ws://localhost:8080/x", toWebSocketURL("http://localhost:8080/x"))
	require.Equal(t, "ws://already", toWebSocketURL("ws://already"))
}

func TestTokenAuthenticator(t *testing.T) {
	open := TokenAuthenticator(nil)
	bidder, err := open("alice")
	require.NoError(t, err)
	require.Equal(t, "alice", bidder)
	_, err = open("")
	require.Error(t, err)

	table := TokenAuthenticator(map[string]string{"t1": "bidder-1"})
	bidder, err = table("t1")
	require.NoError(t, err)
	require.Equal(t, "bidder-1", bidder)
	_, err = table("t2")
	require.Error(t, err)
}
