package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dsr1111/auction-akatsuki/internal/auction"
	"github.com/dsr1111/auction-akatsuki/internal/auth"
	"github.com/dsr1111/auction-akatsuki/internal/database"
	"github.com/dsr1111/auction-akatsuki/internal/export"
	"github.com/dsr1111/auction-akatsuki/pkg/errors"
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// Handler serves the REST surface next to the websocket: the item
// listing, the shared time endpoint, completed-auction settlement and
// its xlsx export.
type Handler struct {
	svc *auction.Service
	db  database.Service
}

func NewHandler(svc *auction.Service, db database.Service) *Handler {
	return &Handler{svc: svc, db: db}
}

// Register wires the routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/time", h.handleTime)
	mux.HandleFunc("/api/auction/items", h.handleItems)
	mux.HandleFunc("/api/auction/bids", h.handleBids)
	mux.HandleFunc("/api/auction/completed", h.handleCompleted)
	mux.HandleFunc("/api/auction/export", h.handleExport)
	mux.HandleFunc("/health", h.handleHealth)
}

// handleTime exposes the authoritative server clock. Clients compute
// serverNow − clientNow once and reuse the offset, so every observer
// classifies auction state identically.
func (h *Handler) handleTime(w http.ResponseWriter, r *http.Request) {
	now, err := h.svc.ServerTime(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"serverTime": now.Format(time.RFC3339Nano),
		"timestamp":  now.UnixMilli(),
	})
}

type listedItem struct {
	types.Item
	TimeLeft string `json:"timeLeft,omitempty"`
	IsEnded  bool   `json:"isEnded"`
}

func (h *Handler) handleItems(w http.ResponseWriter, r *http.Request) {
	items, now, err := h.svc.ListItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	listed := make([]listedItem, 0, len(items))
	for _, item := range items {
		listed = append(listed, listedItem{
			Item:     item,
			TimeLeft: auction.FormatTimeLeft(item, now),
			IsEnded:  auction.Classify(item, now) == auction.Ended,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":      listed,
		"serverTime": now.UnixMilli(),
	})
}

// handleBids serves the full ledger of one item, newest first, so the
// history view works while the auction is still open.
func (h *Handler) handleBids(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "item_id is required"})
		return
	}

	bids, err := h.svc.BidHistory(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	if bids == nil {
		bids = []types.Bid{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bids": bids})
}

func (h *Handler) handleCompleted(w http.ResponseWriter, r *http.Request) {
	completed, err := h.svc.CompletedItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if len(completed) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":    []types.CompletedItem{},
			"message": "no completed items",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": completed})
}

// handleExport streams the settlement workbook. Admin only.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !user.IsAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	completed, err := h.svc.CompletedItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	report := export.BuildReport(completed)
	workbook, err := export.WriteXLSX(report)
	if err != nil {
		writeError(w, err)
		return
	}

	now, err := h.svc.ServerTime(r.Context())
	if err != nil {
		now = time.Now()
	}
	filename := fmt.Sprintf("settlement_%s.xlsx", now.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	if _, err := w.Write(workbook); err != nil {
		log.Error("Error writing export response: ", err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.db.Health())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Error encoding response: ", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Code(err) {
	case errors.ErrUnknownItem, errors.ErrBidNotFound:
		status = http.StatusNotFound
	case errors.ErrForbidden:
		status = http.StatusForbidden
	case errors.ErrInvalidAmount, errors.ErrInvalidQuantity:
		status = http.StatusBadRequest
	case errors.ErrStorageUnavailable:
		status = http.StatusServiceUnavailable
	}
	log.Error("Request failed: ", err)
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}
