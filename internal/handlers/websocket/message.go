package websocket

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"

	"github.com/dsr1111/auction-akatsuki/internal/events"
	"github.com/dsr1111/auction-akatsuki/pkg/errors"
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

type Message struct {
	Type string          `json:"type"` // Type of the message (e.g., "bid", "delete_bid")
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(rawMessage, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type.
func (h *AuctionHandler) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for client %s", client.User.ID)
		client.Send <- []byte(errors.New(errors.ErrRateLimited, "Rate limit exceeded").ToJSON())
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from client %s: %v", client.User.ID, err)
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid message format").ToJSON())
		return
	}

	switch msg.Type {
	case "join":
		log.Debug("Client joined the auction")
	case "bid":
		h.handleBidMessage(client, msg.Data)
	case "delete_bid":
		h.handleDeleteBidMessage(client, msg.Data)
	case "check_consistency":
		h.handleCheckConsistencyMessage(client, msg.Data)
	case "reconcile":
		h.handleReconcileMessage(client, msg.Data)
	default:
		log.Printf("Unknown message type: %s", msg.Type)
		client.Send <- []byte(errors.New(errors.ErrUnknownMessageType, "Unknown message type").ToJSON())
	}
}

// Handlers for specific message types
func (h *AuctionHandler) handleBidMessage(client *Client, data json.RawMessage) {
	type BidMessage struct {
		ItemID   string `json:"item_id"`
		Amount   int    `json:"amount"`
		Quantity int    `json:"quantity"`
	}
	var bidMsg BidMessage

	if err := json.Unmarshal(data, &bidMsg); err != nil {
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid bid message").ToJSON())
		return
	}

	bid, err := h.svc.PlaceBid(context.Background(), bidMsg.ItemID, bidMsg.Amount, bidMsg.Quantity, client.User)
	if err != nil {
		client.Send <- []byte(appError(err, "Failed to place bid").ToJSON())
		return
	}

	ack, err := json.Marshal(map[string]interface{}{"type": "bid_accepted", "data": bid})
	if err != nil {
		log.Error("Error marshalling bid ack: ", err)
		return
	}
	client.Send <- ack
}

func (h *AuctionHandler) handleDeleteBidMessage(client *Client, data json.RawMessage) {
	type DeleteBidMessage struct {
		BidID string `json:"bid_id"`
	}
	var delMsg DeleteBidMessage

	if err := json.Unmarshal(data, &delMsg); err != nil {
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid delete message").ToJSON())
		return
	}

	if err := h.svc.DeleteBid(context.Background(), delMsg.BidID, client.User); err != nil {
		client.Send <- []byte(appError(err, "Failed to delete bid").ToJSON())
		return
	}

	client.Send <- []byte(`{"type": "bid_deleted"}`)
}

func (h *AuctionHandler) handleCheckConsistencyMessage(client *Client, data json.RawMessage) {
	type CheckMessage struct {
		ItemID string `json:"item_id"`
	}
	var checkMsg CheckMessage

	if err := json.Unmarshal(data, &checkMsg); err != nil {
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid consistency check message").ToJSON())
		return
	}

	inconsistent, err := h.svc.CheckConsistency(context.Background(), checkMsg.ItemID)
	if err != nil {
		client.Send <- []byte(appError(err, "Failed to check item consistency").ToJSON())
		return
	}

	ack, err := json.Marshal(map[string]interface{}{
		"type": "consistency",
		"data": map[string]interface{}{"item_id": checkMsg.ItemID, "inconsistent": inconsistent},
	})
	if err != nil {
		log.Error("Error marshalling consistency ack: ", err)
		return
	}
	client.Send <- ack
}

func (h *AuctionHandler) handleReconcileMessage(client *Client, data json.RawMessage) {
	type ReconcileMessage struct {
		ItemID string `json:"item_id"`
	}
	var recMsg ReconcileMessage

	if err := json.Unmarshal(data, &recMsg); err != nil {
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid reconcile message").ToJSON())
		return
	}

	item, err := h.svc.Reconcile(context.Background(), recMsg.ItemID, client.User)
	if err != nil {
		client.Send <- []byte(appError(err, "Failed to reconcile item").ToJSON())
		return
	}

	ack, err := json.Marshal(map[string]interface{}{"type": "reconciled", "data": item})
	if err != nil {
		log.Error("Error marshalling reconcile ack: ", err)
		return
	}
	client.Send <- ack
}

func appError(err error, fallback string) *errors.AppError {
	if appErr, ok := err.(*errors.AppError); ok {
		return appErr
	}
	return errors.Wrap(err, fallback)
}

func itemUpdateMessage(item types.Item, snap events.Snapshot) []byte {
	payload, err := json.Marshal(map[string]interface{}{
		"type": "item_update",
		"data": map[string]interface{}{
			"item":           item,
			"totalCommitted": snap.TotalCommitted,
			"serverTime":     snap.ServerTime,
		},
	})
	if err != nil {
		log.Error("Error marshalling item update: ", err)
		return []byte(`{"type": "error", "message": "internal server error"}`)
	}
	return payload
}

func itemsReloadMessage(snap events.Snapshot) []byte {
	payload, err := json.Marshal(map[string]interface{}{
		"type": "items_reload",
		"data": map[string]interface{}{
			"items":          snap.Items,
			"totalCommitted": snap.TotalCommitted,
			"serverTime":     snap.ServerTime,
		},
	})
	if err != nil {
		log.Error("Error marshalling items reload: ", err)
		return []byte(`{"type": "error", "message": "internal server error"}`)
	}
	return payload
}
