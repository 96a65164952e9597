package auction

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dsr1111/auction-akatsuki/internal/events"
	"github.com/dsr1111/auction-akatsuki/pkg/errors"
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// Store is the storage contract the auction service operates against.
// CreateBid, DeleteBid and ReconcileItem are atomic units: the ledger
// mutation and the current-bid cache update either both land or
// neither does, and units touching the same item serialize.
type Store interface {
	// Now returns the shared server clock all auction-state
	// classification is based on.
	Now(ctx context.Context) (time.Time, error)

	GetItemByID(ctx context.Context, itemID string) (types.Item, error)
	ListItems(ctx context.Context) ([]types.Item, error)
	ListEndedItems(ctx context.Context, now time.Time) ([]types.Item, error)
	CreateItem(ctx context.Context, item types.Item) (types.Item, error)
	DeleteItem(ctx context.Context, itemID string) error

	ListBidsByItem(ctx context.Context, itemID string) ([]types.Bid, error)
	GetBidByID(ctx context.Context, bidID string) (types.Bid, error)

	// CreateBid appends to the ledger and applies the running-max cache
	// rule in one unit. Fails with ErrUnknownItem or ErrAuctionEnded.
	CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error)
	// DeleteBid removes a ledger entry and recomputes the cache from
	// the remaining bids in one unit. Returns the refreshed item.
	DeleteBid(ctx context.Context, bidID string) (types.Item, error)
	// ReconcileItem overwrites the cache from the ledger. Idempotent.
	ReconcileItem(ctx context.Context, itemID string) (types.Item, error)
}

// Service is the auction core's entry point: it validates requests,
// delegates the atomic ledger+cache units to the store and publishes
// change events after they commit. Publishing is fire-and-forget; the
// ledger and cache stay correct even if no event is ever delivered.
type Service struct {
	store Store
	bus   events.Bus
}

func NewService(store Store, bus events.Bus) *Service {
	return &Service{store: store, bus: bus}
}

// PlaceBid validates and appends one bid, updating the current-bid
// cache in the same atomic unit.
func (s *Service) PlaceBid(ctx context.Context, itemID string, amount, quantity int, bidder types.User) (types.Bid, error) {
	if !bidder.IsMember {
		return types.Bid{}, errors.New(errors.ErrForbidden, "only guild members can bid")
	}
	if quantity < 1 {
		return types.Bid{}, errors.New(errors.ErrInvalidQuantity, "bid quantity must be at least 1")
	}
	if amount <= 0 {
		return types.Bid{}, errors.New(errors.ErrInvalidAmount, "bid amount must be positive")
	}

	bid := types.Bid{
		ItemID:         itemID,
		BidAmount:      amount,
		BidQuantity:    quantity,
		BidderNickname: bidder.Nickname,
	}
	if bidder.DiscordID != "" {
		bid.BidderDiscordID = &bidder.DiscordID
	}
	if bidder.DiscordName != "" {
		bid.BidderDiscordName = &bidder.DiscordName
	}

	created, err := s.store.CreateBid(ctx, bid)
	if err != nil {
		return types.Bid{}, err
	}

	s.publish(ctx, events.Event{Kind: events.BidPlaced, ItemID: itemID})
	return created, nil
}

// DeleteBid removes a ledger entry. Admin only; the cache is
// recomputed from the remaining bids inside the same unit.
func (s *Service) DeleteBid(ctx context.Context, bidID string, requester types.User) error {
	if !requester.IsAdmin {
		return errors.New(errors.ErrForbidden, "only admins can delete bids")
	}

	item, err := s.store.DeleteBid(ctx, bidID)
	if err != nil {
		return err
	}

	s.publish(ctx, events.Event{Kind: events.BidDeleted, ItemID: item.ID})
	return nil
}

// BidHistory lists an item's ledger, newest first.
func (s *Service) BidHistory(ctx context.Context, itemID string) ([]types.Bid, error) {
	if _, err := s.store.GetItemByID(ctx, itemID); err != nil {
		return nil, err
	}
	bids, err := s.store.ListBidsByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].CreatedAt.After(bids[j].CreatedAt)
	})
	return bids, nil
}

// CheckConsistency reports whether the item's cached pair has drifted
// from the ledger. It never repairs; call Reconcile for that.
func (s *Service) CheckConsistency(ctx context.Context, itemID string) (bool, error) {
	item, err := s.store.GetItemByID(ctx, itemID)
	if err != nil {
		return false, err
	}
	bids, err := s.store.ListBidsByItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	return IsInconsistent(item, bids), nil
}

// Reconcile recomputes the item's cache from the ledger. Idempotent;
// also the recovery action after any partial failure of the append
// path. Admin only, matching the sync button it backs.
func (s *Service) Reconcile(ctx context.Context, itemID string, requester types.User) (types.Item, error) {
	if !requester.IsAdmin {
		return types.Item{}, errors.New(errors.ErrForbidden, "only admins can reconcile items")
	}

	item, err := s.store.ReconcileItem(ctx, itemID)
	if err != nil {
		return types.Item{}, err
	}

	s.publish(ctx, events.Event{Kind: events.BidPlaced, ItemID: itemID})
	return item, nil
}

// AddItem lists a new lot.
func (s *Service) AddItem(ctx context.Context, item types.Item, requester types.User) (types.Item, error) {
	if !requester.IsAdmin {
		return types.Item{}, errors.New(errors.ErrForbidden, "only admins can add items")
	}
	if item.StartingPrice <= 0 {
		return types.Item{}, errors.New(errors.ErrInvalidAmount, "starting price must be positive")
	}
	if item.Quantity < 1 {
		return types.Item{}, errors.New(errors.ErrInvalidQuantity, "item quantity must be at least 1")
	}

	item.CurrentBid = item.StartingPrice
	item.LastBidderNickname = nil
	created, err := s.store.CreateItem(ctx, item)
	if err != nil {
		return types.Item{}, err
	}

	s.publish(ctx, events.Event{Kind: events.ItemAdded, ItemID: created.ID})
	return created, nil
}

// RemoveItem delists a lot, cascading its bids.
func (s *Service) RemoveItem(ctx context.Context, itemID string, requester types.User) error {
	if !requester.IsAdmin {
		return errors.New(errors.ErrForbidden, "only admins can remove items")
	}
	if err := s.store.DeleteItem(ctx, itemID); err != nil {
		return err
	}

	s.publish(ctx, events.Event{Kind: events.ItemRemoved, ItemID: itemID})
	return nil
}

// ListItems returns all items in display order: open auctions first,
// then by creation time descending within each group.
func (s *Service) ListItems(ctx context.Context) ([]types.Item, time.Time, error) {
	now, err := s.store.Now(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	SortForDisplay(items, now)
	return items, now, nil
}

// CompletedItems returns every ended item with its full ledger and the
// settlement computed from it.
func (s *Service) CompletedItems(ctx context.Context) ([]types.CompletedItem, error) {
	now, err := s.store.Now(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListEndedItems(ctx, now)
	if err != nil {
		return nil, err
	}

	completed := make([]types.CompletedItem, 0, len(items))
	for _, item := range items {
		bids, err := s.store.ListBidsByItem(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		completed = append(completed, types.CompletedItem{
			Item:        item,
			BidHistory:  RankBids(bids),
			WinningBids: Allocate(item.Quantity, bids),
		})
	}
	return completed, nil
}

// TotalCommitted recomputes the total committed bid value across all
// items from their current ledgers.
func (s *Service) TotalCommitted(ctx context.Context) (int, error) {
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return 0, err
	}
	bidsByItem := make(map[string][]types.Bid, len(items))
	for _, item := range items {
		bids, err := s.store.ListBidsByItem(ctx, item.ID)
		if err != nil {
			return 0, err
		}
		bidsByItem[item.ID] = bids
	}
	return TotalCommitted(items, bidsByItem), nil
}

// ServerTime exposes the shared storage clock.
func (s *Service) ServerTime(ctx context.Context) (time.Time, error) {
	return s.store.Now(ctx)
}

// GetItem returns a single item, for point refreshes.
func (s *Service) GetItem(ctx context.Context, itemID string) (types.Item, error) {
	return s.store.GetItemByID(ctx, itemID)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		log.Warn("Failed to publish event", "kind", ev.Kind, "item", ev.ItemID, "error", err)
	}
}

// SortForDisplay orders items open-first, newest-first within each
// group, using the shared clock so every observer sees the same order.
func SortForDisplay(items []types.Item, now time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		iEnded := Classify(items[i], now) == Ended
		jEnded := Classify(items[j], now) == Ended
		if iEnded != jEnded {
			return !iEnded
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
