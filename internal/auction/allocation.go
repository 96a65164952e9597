package auction

import (
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// Allocate distributes an item's quantity across its bids by descending
// per-unit price. Each bid is consumed at most once, for
// min(remaining, bidQuantity) units; a bid whose requested quantity is
// only partially covered is a partial winner. The sum of allocated
// quantities always equals min(quantity, total requested quantity).
//
// Allocate reads the full ledger, never the current-bid cache: the
// cache only tracks the single highest bid and cannot express the
// multi-unit ranking needed here. It is only meaningful for items the
// auction clock reports as ended.
func Allocate(quantity int, bids []types.Bid) []types.WinningAllocation {
	if quantity < 1 || len(bids) == 0 {
		return nil
	}

	var allocations []types.WinningAllocation
	remaining := quantity
	for _, bid := range RankBids(bids) {
		if remaining <= 0 {
			break
		}
		used := bid.BidQuantity
		if used > remaining {
			used = remaining
		}
		if used <= 0 {
			continue
		}
		allocations = append(allocations, types.WinningAllocation{
			BidID:             bid.ID,
			BidderNickname:    bid.BidderNickname,
			BidderDiscordName: bid.BidderDiscordName,
			BidAmount:         bid.BidAmount,
			QuantityUsed:      used,
		})
		remaining -= used
	}
	return allocations
}

// SettlementValue is the total value of an item's settlement against
// its current ledger: Σ bidAmount × quantityUsed over the allocation.
func SettlementValue(quantity int, bids []types.Bid) int {
	total := 0
	for _, alloc := range Allocate(quantity, bids) {
		total += alloc.BidAmount * alloc.QuantityUsed
	}
	return total
}

// TotalCommitted sums the settlement value of every item against its
// current ledger. Recomputed from scratch on each call; the update
// coordinator relies on that instead of patching the figure
// incrementally.
func TotalCommitted(items []types.Item, bidsByItem map[string][]types.Bid) int {
	total := 0
	for _, item := range items {
		total += SettlementValue(item.Quantity, bidsByItem[item.ID])
	}
	return total
}
