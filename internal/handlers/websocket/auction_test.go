package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/stretchr/testify/require"

	"github.com/dsr1111/auction-akatsuki/internal/auth"
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

func addClient(h *AuctionHandler, client *Client) {
	h.clientLock.Lock()
	h.clients[client] = true
	h.clientLock.Unlock()
}

func clientCount(h *AuctionHandler) int {
	h.clientLock.Lock()
	defer h.clientLock.Unlock()
	return len(h.clients)
}

func TestBroadcast_SurvivesDisconnectingClient(t *testing.T) {
	h, _ := newTestHandler(t)

	healthy := newTestClient(types.User{ID: "u1", Nickname: "alice", IsMember: true})
	addClient(h, healthy)

	// A client whose read pump just died: Disconnect has closed Send
	// but the client is still registered, which is exactly what
	// Broadcast sees when it wins the lock race.
	leaving := newTestClient(types.User{ID: "u2", Nickname: "bob", IsMember: true})
	leaving.Disconnect(nil)
	addClient(h, leaving)

	require.NotPanics(t, func() {
		h.Broadcast([]byte(`{"type":"item_update"}`))
	})

	// The healthy client still gets the message, the leaving one is
	// swept out of the map.
	require.Equal(t, `{"type":"item_update"}`, string(<-healthy.Send))
	require.Equal(t, 1, clientCount(h))
}

func TestBroadcast_ConcurrentWithDisconnects(t *testing.T) {
	h, _ := newTestHandler(t)

	clients := make([]*Client, 20)
	for i := range clients {
		clients[i] = newTestClient(types.User{ID: "u", Nickname: "n", IsMember: true})
		addClient(h, clients[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, c := range clients {
			c.Disconnect(h)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			h.Broadcast([]byte(`{"type":"items_reload"}`))
		}
	}()
	wg.Wait()

	require.Equal(t, 0, clientCount(h))
}

func wsSessionCookie(t *testing.T) string {
	t.Helper()

	claims, err := json.Marshal(map[string]interface{}{
		"sub":         "u1",
		"displayName": "alice",
		"isMember":    true,
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	key, err := auth.GenerateEncryptionKey()
	require.NoError(t, err)
	encrypted, err := jwe.Encrypt(claims,
		jwe.WithKey(jwa.DIRECT(), key),
		jwe.WithContentEncryption(jwa.A256GCM()))
	require.NoError(t, err)

	return "authjs.session-token=" + string(encrypted)
}

func dialAuction(t *testing.T, h *AuctionHandler) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleAuctionWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):]
	header := http.Header{"Cookie": []string{wsSessionCookie(t)}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandleAuctionWebSocket_RejectsAnonymous(t *testing.T) {
	t.Setenv("AUTH_SECRET", "ws-test-secret")
	h, _ := newTestHandler(t)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleAuctionWebSocket))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleAuctionWebSocket_ReadLimit(t *testing.T) {
	t.Setenv("AUTH_SECRET", "ws-test-secret")
	h, store := newTestHandler(t)
	h.maxMessageSize = 256
	item := store.SeedItem(types.Item{Name: "Lot", StartingPrice: 100, CurrentBid: 100, Quantity: 1})

	conn := dialAuction(t, h)

	// A message inside the limit round-trips normally.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"bid","data":{"item_id":"`+item.ID+`","amount":150,"quantity":1}}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(reply), "bid_accepted")

	// An oversized message gets the connection dropped.
	oversized := `{"type":"join","data":"` + strings.Repeat("x", 1024) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(oversized)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}
