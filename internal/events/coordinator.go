package events

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// ItemSource is the read side the coordinator refreshes its view from.
// Implemented by the auction service.
type ItemSource interface {
	GetItem(ctx context.Context, itemID string) (types.Item, error)
	ListItems(ctx context.Context) ([]types.Item, time.Time, error)
	TotalCommitted(ctx context.Context) (int, error)
}

// Snapshot is the coordinator's current view of the auction.
type Snapshot struct {
	Items          []types.Item
	TotalCommitted int
	ServerTime     time.Time
}

// Coordinator consumes change events and maintains a consistent local
// view without flicker: bid events patch the single affected item in
// place, add/remove events refetch the whole list because membership
// and ordering changed. Duplicate deliveries inside the dedup window
// collapse to one effective update, and reapplying the same patch is
// harmless, so the at-least-once transport never corrupts the view.
type Coordinator struct {
	source      ItemSource
	dedupWindow time.Duration
	now         func() time.Time
	onChange    func(Event, Snapshot)

	mu          sync.Mutex
	items       []types.Item
	index       map[string]int
	total       int
	serverTime  time.Time
	lastApplied map[dedupKey]time.Time
}

type dedupKey struct {
	kind   Kind
	itemID string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDedupWindow overrides the duplicate-collapse window. Zero
// disables deduplication, which tests rely on.
func WithDedupWindow(window time.Duration) Option {
	return func(c *Coordinator) { c.dedupWindow = window }
}

// WithClock injects the time source used for deduplication.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithOnChange registers a callback invoked after every applied
// update with the triggering event and the fresh snapshot. Full
// refreshes report a Resync event.
func WithOnChange(fn func(Event, Snapshot)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

const defaultDedupWindow = time.Second

func NewCoordinator(source ItemSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:      source,
		dedupWindow: defaultDedupWindow,
		now:         time.Now,
		index:       make(map[string]int),
		lastApplied: make(map[dedupKey]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh replaces the whole view from the source. Used at startup and
// whenever list membership changes.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.refresh(ctx, Event{Kind: Resync})
}

func (c *Coordinator) refresh(ctx context.Context, ev Event) error {
	items, serverTime, err := c.source.ListItems(ctx)
	if err != nil {
		return err
	}
	total, err := c.source.TotalCommitted(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.items = items
	c.index = make(map[string]int, len(items))
	for i, item := range items {
		c.index[item.ID] = i
	}
	c.total = total
	c.serverTime = serverTime
	c.mu.Unlock()

	c.notify(ev)
	return nil
}

// Apply processes one event. Safe to call with duplicates and with
// events for items outside the current view.
func (c *Coordinator) Apply(ctx context.Context, ev Event) error {
	if c.dropDuplicate(ev) {
		return nil
	}

	switch ev.Kind {
	case BidPlaced, BidDeleted:
		return c.patchItem(ctx, ev)
	case ItemAdded, ItemRemoved:
		return c.refresh(ctx, ev)
	default:
		log.Warn("Ignoring event of unknown kind", "kind", ev.Kind)
		return nil
	}
}

// Run consumes the bus until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, bus Bus) error {
	ch, cancel, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := c.Apply(ctx, ev); err != nil {
				log.Warn("Failed to apply event", "kind", ev.Kind, "item", ev.ItemID, "error", err)
			}
		}
	}
}

// Snapshot returns a copy of the current view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Items:          append([]types.Item(nil), c.items...),
		TotalCommitted: c.total,
		ServerTime:     c.serverTime,
	}
}

func (c *Coordinator) dropDuplicate(ev Event) bool {
	if c.dedupWindow <= 0 {
		return false
	}
	key := dedupKey{kind: ev.Kind, itemID: ev.ItemID}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastApplied[key]; ok && now.Sub(last) < c.dedupWindow {
		return true
	}
	c.lastApplied[key] = now
	return false
}

// patchItem refreshes the one affected item in place. Items outside
// the view are ignored; a read failure falls back to a full refresh,
// which is always safe.
func (c *Coordinator) patchItem(ctx context.Context, ev Event) error {
	itemID := ev.ItemID
	c.mu.Lock()
	_, displayed := c.index[itemID]
	c.mu.Unlock()
	if !displayed {
		return nil
	}

	item, err := c.source.GetItem(ctx, itemID)
	if err != nil {
		log.Warn("Point refresh failed, refetching item list", "item", itemID, "error", err)
		return c.refresh(ctx, ev)
	}

	// The aggregate is recomputed from the ledger, never adjusted from
	// the patch itself.
	total, err := c.source.TotalCommitted(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if pos, ok := c.index[itemID]; ok {
		c.items[pos] = item
	}
	c.total = total
	c.mu.Unlock()

	c.notify(ev)
	return nil
}

func (c *Coordinator) notify(ev Event) {
	if c.onChange == nil {
		return
	}
	c.onChange(ev, c.Snapshot())
}
