package auction

import (
	"sort"

	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// RankBids returns a copy of bids sorted by the single ranking rule
// shared by the cache recompute, the consistency checker and the
// allocation engine: amount descending, earliest submission first
// among equal amounts, lowest id as the final tie-break.
func RankBids(bids []types.Bid) []types.Bid {
	ranked := append([]types.Bid(nil), bids...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].BidAmount != ranked[j].BidAmount {
			return ranked[i].BidAmount > ranked[j].BidAmount
		}
		if !ranked[i].CreatedAt.Equal(ranked[j].CreatedAt) {
			return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}

// TopBid returns the highest-ranked bid, or false when bids is empty.
func TopBid(bids []types.Bid) (types.Bid, bool) {
	if len(bids) == 0 {
		return types.Bid{}, false
	}
	top := bids[0]
	for _, b := range bids[1:] {
		if ranksAbove(b, top) {
			top = b
		}
	}
	return top, true
}

func ranksAbove(a, b types.Bid) bool {
	if a.BidAmount != b.BidAmount {
		return a.BidAmount > b.BidAmount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
