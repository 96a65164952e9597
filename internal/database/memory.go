package database

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dsr1111/auction-akatsuki/internal/auction"
	"github.com/dsr1111/auction-akatsuki/pkg/errors"
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// MemoryService is a concurrency-safe in-memory implementation of
// Service, used by tests and dev mode. It keeps the same atomicity
// contract as the Postgres service: ledger+cache units for the same
// item serialize on a per-item lock, different items run in parallel.
type MemoryService struct {
	mu        sync.RWMutex
	items     map[string]types.Item
	bids      map[string][]types.Bid // key: itemID
	itemLocks map[string]*sync.Mutex
	clock     func() time.Time
}

func NewMemory() *MemoryService {
	return &MemoryService{
		items:     make(map[string]types.Item),
		bids:      make(map[string][]types.Bid),
		itemLocks: make(map[string]*sync.Mutex),
		clock:     time.Now,
	}
}

// SetClock injects the time source. Tests use it to pin "now".
func (m *MemoryService) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func (m *MemoryService) Health() map[string]string {
	return map[string]string{"status": "up", "message": "in-memory store"}
}

func (m *MemoryService) Close() error {
	return nil
}

func (m *MemoryService) Now(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock(), nil
}

func (m *MemoryService) lockForItem(itemID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.itemLocks[itemID]
	if !ok {
		lock = &sync.Mutex{}
		m.itemLocks[itemID] = lock
	}
	return lock
}

func (m *MemoryService) GetItemByID(_ context.Context, itemID string) (types.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemID]
	if !ok {
		return types.Item{}, errors.New(errors.ErrUnknownItem, "item not found")
	}
	return item, nil
}

func (m *MemoryService) ListItems(_ context.Context) ([]types.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]types.Item, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, item)
	}
	return items, nil
}

func (m *MemoryService) ListEndedItems(_ context.Context, now time.Time) ([]types.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ended []types.Item
	for _, item := range m.items {
		if auction.Classify(item, now) == auction.Ended {
			ended = append(ended, item)
		}
	}
	return ended, nil
}

func (m *MemoryService) CreateItem(_ context.Context, item types.Item) (types.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = uuid.NewString()
	item.CurrentBid = item.StartingPrice
	item.LastBidderNickname = nil
	item.CreatedAt = m.clock()
	m.items[item.ID] = item
	return item, nil
}

func (m *MemoryService) DeleteItem(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return errors.New(errors.ErrUnknownItem, "item not found")
	}
	delete(m.items, itemID)
	delete(m.bids, itemID)
	delete(m.itemLocks, itemID)
	return nil
}

func (m *MemoryService) ListBidsByItem(_ context.Context, itemID string) ([]types.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Bid(nil), m.bids[itemID]...), nil
}

func (m *MemoryService) GetBidByID(_ context.Context, bidID string) (types.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, bids := range m.bids {
		for _, bid := range bids {
			if bid.ID == bidID {
				return bid, nil
			}
		}
	}
	return types.Bid{}, errors.New(errors.ErrBidNotFound, "bid not found")
}

func (m *MemoryService) CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error) {
	lock := m.lockForItem(bid.ItemID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[bid.ItemID]
	if !ok {
		return types.Bid{}, errors.New(errors.ErrUnknownItem, "item not found")
	}
	now := m.clock()
	if auction.Classify(item, now) == auction.Ended {
		return types.Bid{}, errors.New(errors.ErrAuctionEnded, "auction has ended")
	}

	bid.ID = uuid.NewString()
	bid.CreatedAt = now
	m.bids[bid.ItemID] = append(m.bids[bid.ItemID], bid)

	if cache, changed := auction.CacheAfterAppend(item, bid.BidAmount, bid.BidderNickname); changed {
		item.CurrentBid = cache.CurrentBid
		item.LastBidderNickname = cache.LastBidderNickname
		m.items[item.ID] = item
	}
	return bid, nil
}

func (m *MemoryService) DeleteBid(ctx context.Context, bidID string) (types.Item, error) {
	bid, err := m.GetBidByID(ctx, bidID)
	if err != nil {
		return types.Item{}, err
	}

	lock := m.lockForItem(bid.ItemID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[bid.ItemID]
	if !ok {
		return types.Item{}, errors.New(errors.ErrUnknownItem, "item not found")
	}

	remaining := make([]types.Bid, 0, len(m.bids[bid.ItemID]))
	found := false
	for _, b := range m.bids[bid.ItemID] {
		if b.ID == bidID {
			found = true
			continue
		}
		remaining = append(remaining, b)
	}
	if !found {
		return types.Item{}, errors.New(errors.ErrBidNotFound, "bid not found")
	}
	m.bids[bid.ItemID] = remaining

	cache := auction.CacheFromLedger(item, remaining)
	item.CurrentBid = cache.CurrentBid
	item.LastBidderNickname = cache.LastBidderNickname
	m.items[item.ID] = item
	return item, nil
}

func (m *MemoryService) ReconcileItem(_ context.Context, itemID string) (types.Item, error) {
	lock := m.lockForItem(itemID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok {
		return types.Item{}, errors.New(errors.ErrUnknownItem, "item not found")
	}

	cache := auction.CacheFromLedger(item, m.bids[itemID])
	item.CurrentBid = cache.CurrentBid
	item.LastBidderNickname = cache.LastBidderNickname
	m.items[itemID] = item
	return item, nil
}

// SeedItem inserts an item with caller-chosen fields. Intended for tests.
func (m *MemoryService) SeedItem(item types.Item) types.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.clock()
	}
	m.items[item.ID] = item
	return item
}
