package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dsr1111/auction-akatsuki/internal/auction"
	"github.com/dsr1111/auction-akatsuki/internal/auth"
	"github.com/dsr1111/auction-akatsuki/internal/database"
	"github.com/dsr1111/auction-akatsuki/internal/events"
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *database.MemoryService) {
	t.Helper()
	store := database.NewMemory()
	svc := auction.NewService(store, events.NewMemoryBus())

	mux := http.NewServeMux()
	NewHandler(svc, store).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func getJSON(t *testing.T, url string) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestHandleTime(t *testing.T) {
	srv, store := newTestServer(t)

	pinned := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return pinned })

	payload := getJSON(t, srv.URL+"/api/time")
	require.Equal(t, pinned.Format(time.RFC3339Nano), payload["serverTime"])
	require.Equal(t, float64(pinned.UnixMilli()), payload["timestamp"])
}

func TestHandleItems(t *testing.T) {
	srv, store := newTestServer(t)

	now := time.Now()
	ended := now.Add(-time.Hour)
	open := now.Add(48 * time.Hour)
	store.SeedItem(types.Item{Name: "Open Lot", StartingPrice: 100, CurrentBid: 100, Quantity: 1, EndTime: &open, CreatedAt: now})
	store.SeedItem(types.Item{Name: "Closed Lot", StartingPrice: 50, CurrentBid: 50, Quantity: 1, EndTime: &ended, CreatedAt: now.Add(-time.Minute)})

	payload := getJSON(t, srv.URL+"/api/auction/items")
	items := payload["items"].([]interface{})
	require.Len(t, items, 2)

	// Open items come first in display order.
	first := items[0].(map[string]interface{})
	require.Equal(t, "Open Lot", first["name"])
	require.False(t, first["isEnded"].(bool))
	require.NotEmpty(t, first["timeLeft"])

	second := items[1].(map[string]interface{})
	require.Equal(t, "Closed Lot", second["name"])
	require.True(t, second["isEnded"].(bool))
}

func TestHandleCompleted(t *testing.T) {
	srv, store := newTestServer(t)

	payload := getJSON(t, srv.URL+"/api/auction/completed")
	require.Equal(t, "no completed items", payload["message"])

	ended := time.Now().Add(-time.Hour)
	store.SeedItem(types.Item{Name: "Done", StartingPrice: 10, CurrentBid: 10, Quantity: 1, EndTime: &ended})

	payload = getJSON(t, srv.URL+"/api/auction/completed")
	data := payload["data"].([]interface{})
	require.Len(t, data, 1)
}

func TestHandleBids(t *testing.T) {
	srv, store := newTestServer(t)
	item := store.SeedItem(types.Item{Name: "Lot", StartingPrice: 100, CurrentBid: 100, Quantity: 1})

	earlier := time.Now().Add(-10 * time.Minute)
	store.SetClock(func() time.Time { return earlier })
	_, err := store.CreateBid(context.Background(), types.Bid{ItemID: item.ID, BidAmount: 150, BidQuantity: 1, BidderNickname: "alice"})
	require.NoError(t, err)
	store.SetClock(time.Now)
	_, err = store.CreateBid(context.Background(), types.Bid{ItemID: item.ID, BidAmount: 200, BidQuantity: 1, BidderNickname: "bob"})
	require.NoError(t, err)

	payload := getJSON(t, srv.URL+"/api/auction/bids?item_id="+item.ID)
	bids := payload["bids"].([]interface{})
	require.Len(t, bids, 2)

	// Newest first, so the history view leads with the standing bid.
	first := bids[0].(map[string]interface{})
	require.Equal(t, "bob", first["bidderNickname"])
	require.Equal(t, float64(200), first["bidAmount"])
	second := bids[1].(map[string]interface{})
	require.Equal(t, "alice", second["bidderNickname"])

	resp, err := http.Get(srv.URL + "/api/auction/bids?item_id=nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/auction/bids")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	payload := getJSON(t, srv.URL+"/health")
	require.Equal(t, "up", payload["status"])
}

func sessionCookie(t *testing.T, isAdmin bool) *http.Cookie {
	t.Helper()

	claims, err := json.Marshal(map[string]interface{}{
		"sub":         "u1",
		"displayName": "tester",
		"isAdmin":     isAdmin,
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

	return &http.Cookie{Name: "authjs.session-token", Value: string(encrypted)}
}

func TestHandleExport(t *testing.T) {
	t.Setenv("AUTH_SECRET", "rest-test-secret")
	srv, store := newTestServer(t)

	ended := time.Now().Add(-time.Hour)
	item := store.SeedItem(types.Item{Name: "Exported Lot", StartingPrice: 10, CurrentBid: 10, Quantity: 1, EndTime: &ended})

	past := time.Now().Add(-2 * time.Hour)
	store.SetClock(func() time.Time { return past })
	_, err := store.CreateBid(context.Background(), types.Bid{ItemID: item.ID, BidAmount: 100, BidQuantity: 1, BidderNickname: "alice"})
	require.NoError(t, err)
	store.SetClock(time.Now)

	// No session at all.
	resp, err := http.Get(srv.URL + "/api/auction/export")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Member but not admin.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/auction/export", nil)
	require.NoError(t, err)
	req.AddCookie(sessionCookie(t, false))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Admin gets a parseable workbook.
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/auction/export", nil)
	require.NoError(t, err)
	req.AddCookie(sessionCookie(t, true))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), "settlement_")

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	workbook, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer workbook.Close()
	rows, err := workbook.GetRows("Settlement by bidder")
	require.NoError(t, err)
	require.Greater(t, len(rows), 1)
	require.Equal(t, "alice", rows[1][0])
}
