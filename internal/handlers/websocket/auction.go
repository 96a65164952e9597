package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dsr1111/auction-akatsuki/internal/auction"
	"github.com/dsr1111/auction-akatsuki/internal/auth"
	"github.com/dsr1111/auction-akatsuki/internal/events"
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// AuctionHandler owns the websocket fan-out: it upgrades authenticated
// connections, routes incoming bid messages into the auction service
// and republishes confirmed state changes to every connected client.
type AuctionHandler struct {
	svc            *auction.Service
	rateLimit      rate.Limit
	rateBurst      int
	maxMessageSize int64

	clientLock sync.Mutex
	clients    map[*Client]bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewAuctionWebSocketHandler(svc *auction.Service, rateLimit float64, rateBurst, maxMessageSize int) *AuctionHandler {
	if rateLimit <= 0 {
		rateLimit = 1
	}
	if rateBurst <= 0 {
		rateBurst = 3
	}
	if maxMessageSize <= 0 {
		maxMessageSize = 4096
	}
	return &AuctionHandler{
		svc:            svc,
		rateLimit:      rate.Limit(rateLimit),
		rateBurst:      rateBurst,
		maxMessageSize: int64(maxMessageSize),
		clients:        make(map[*Client]bool),
	}
}

// HandleAuctionWebSocket integrates authentication and WebSocket handling.
func (h *AuctionHandler) HandleAuctionWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromRequest(r)
	if err != nil {
		log.Error("Invalid session: ", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !user.IsMember {
		http.Error(w, "Guild members only", http.StatusForbidden)
		return
	}

	h.handleAuctions(w, r, user)
}

// handleAuctions upgrades the HTTP request to a WebSocket connection.
func (h *AuctionHandler) handleAuctions(w http.ResponseWriter, r *http.Request, user types.User) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	conn.SetReadLimit(h.maxMessageSize)

	// Initialize a new client
	client := &Client{
		User:        user,
		Conn:        conn,
		Send:        make(chan []byte, 16),
		RateLimiter: rate.NewLimiter(h.rateLimit, h.rateBurst),
	}

	h.clientLock.Lock()
	h.clients[client] = true
	h.clientLock.Unlock()

	// Start handling the client
	go client.ReadMessages(h)
	go client.WriteMessages()
}

func (h *AuctionHandler) removeClient(client *Client) {
	h.clientLock.Lock()
	delete(h.clients, client)
	h.clientLock.Unlock()
}

// Broadcast sends a message to all connected clients. Clients that
// are already disconnecting or hopelessly behind are dropped; a lost
// broadcast is recoverable, a dead transport goroutine is not.
func (h *AuctionHandler) Broadcast(message []byte) {
	h.clientLock.Lock()
	defer h.clientLock.Unlock()

	for client := range h.clients {
		if !client.trySend(message) {
			delete(h.clients, client)
			client.Disconnect(nil)
		}
	}
}

// RunCoordinator consumes the event bus through an update coordinator
// and republishes the resulting view changes to connected clients:
// bid events become single-item patches, membership changes become a
// full reload, so subscriber views never flicker on mere bid traffic.
func (h *AuctionHandler) RunCoordinator(ctx context.Context, bus events.Bus, coord *events.Coordinator) {
	if err := coord.Refresh(ctx); err != nil {
		log.Error("Initial item list load failed: ", err)
	}
	if err := coord.Run(ctx, bus); err != nil && ctx.Err() == nil {
		log.Error("Coordinator stopped: ", err)
	}
}

// OnViewChange is the coordinator callback wired in cmd: it turns the
// applied event plus fresh snapshot into the client-facing message.
func (h *AuctionHandler) OnViewChange(ev events.Event, snap events.Snapshot) {
	switch ev.Kind {
	case events.BidPlaced, events.BidDeleted:
		for _, item := range snap.Items {
			if item.ID == ev.ItemID {
				h.Broadcast(itemUpdateMessage(item, snap))
				return
			}
		}
		// Item left the view between the event and the snapshot.
		h.Broadcast(itemsReloadMessage(snap))
	default:
		h.Broadcast(itemsReloadMessage(snap))
	}
}
