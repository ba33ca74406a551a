package room

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bidhaus/auctiond/internal/identity"
)

type roomFixture struct {
	hub    *Hub
	server *httptest.Server
	idp    *identity.StaticProvider
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()

	hub := NewHub(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Start(ctx)

	idp := identity.NewStaticProvider()
	handler := NewHandler(hub, idp)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &roomFixture{hub: hub, server: server, idp: idp}
}

func (f *roomFixture) user(token string) uuid.UUID {
	id := uuid.New()
	f.idp.Register(token, id)
	return id
}

func (f *roomFixture) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, hub *Hub, key string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := hub.Stats()[key].(int)
		return ok && v == want
	}, 2*time.Second, 5*time.Millisecond)
}

func readText(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func TestBroadcastReachesEveryRoomMember(t *testing.T) {
	f := newRoomFixture(t)
	f.user("alice-token")
	f.user("bob-token")
	auctionID := uuid.New()

	path := "/ws/auctions/" + auctionID.String()
	alice := f.dial(t, path, "alice-token")
	bob := f.dial(t, path, "bob-token")
	waitForConnections(t, f.hub, "total_in_rooms", 2)

	payload := []byte(`{"type":"BidAccepted"}`)
	f.hub.BroadcastToRoom(auctionID, payload)

	// Every member sees the event, including the user whose action caused it.
	require.Equal(t, payload, readText(t, alice))
	require.Equal(t, payload, readText(t, bob))
}

func TestBroadcastScopedToRoom(t *testing.T) {
	f := newRoomFixture(t)
	f.user("alice-token")
	f.user("bob-token")
	auctionA := uuid.New()
	auctionB := uuid.New()

	inA := f.dial(t, "/ws/auctions/"+auctionA.String(), "alice-token")
	inB := f.dial(t, "/ws/auctions/"+auctionB.String(), "bob-token")
	waitForConnections(t, f.hub, "total_in_rooms", 2)

	f.hub.BroadcastToRoom(auctionA, []byte(`{"room":"a"}`))
	require.Equal(t, []byte(`{"room":"a"}`), readText(t, inA))

	inB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := inB.ReadMessage()
	require.Error(t, err, "other rooms stay silent")
}

func TestSendToUserTargetsAllUserConnections(t *testing.T) {
	f := newRoomFixture(t)
	alice := f.user("alice-token")
	f.user("bob-token")
	auctionID := uuid.New()

	// Alice listens on notifications and inside a room; Bob only in the room.
	aliceNotify := f.dial(t, "/ws/notifications", "alice-token")
	aliceRoom := f.dial(t, "/ws/auctions/"+auctionID.String(), "alice-token")
	bobRoom := f.dial(t, "/ws/auctions/"+auctionID.String(), "bob-token")
	waitForConnections(t, f.hub, "total_in_rooms", 2)

	payload := []byte(`{"kind":"Outbid"}`)
	f.hub.SendToUser(alice, payload)

	require.Equal(t, payload, readText(t, aliceNotify))
	require.Equal(t, payload, readText(t, aliceRoom))

	bobRoom.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := bobRoom.ReadMessage()
	require.Error(t, err, "targeted sends never reach other users")
}

func TestDisconnectPrunesRoom(t *testing.T) {
	f := newRoomFixture(t)
	f.user("alice-token")
	auctionID := uuid.New()

	conn := f.dial(t, "/ws/auctions/"+auctionID.String(), "alice-token")
	waitForConnections(t, f.hub, "total_in_rooms", 1)

	conn.Close()
	waitForConnections(t, f.hub, "total_in_rooms", 0)
	require.Equal(t, 0, f.hub.Stats()["active_rooms"].(int))
}

func TestSubscribeRejections(t *testing.T) {
	f := newRoomFixture(t)
	f.user("alice-token")

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "missing_token", path: "/ws/auctions/" + uuid.NewString(), want: http.StatusUnauthorized},
		{name: "unknown_token", path: "/ws/auctions/" + uuid.NewString() + "?token=bogus", want: http.StatusUnauthorized},
		{name: "bad_auction_id", path: "/ws/auctions/nope?token=alice-token", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(f.server.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
