package auction

import (
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// CacheState is the denormalized pair kept on the item row for fast
// listing and sorting. It is a running max over the ledger, not the
// settlement: a lower bid never displaces the shown leader even though
// it may still win quantity at close.
type CacheState struct {
	CurrentBid         int
	LastBidderNickname *string
}

// CacheAfterAppend decides the cache state after appending a bid with
// the given amount. A new bid leads when it strictly exceeds the
// current bid, or when the item has no bids yet and the amount meets
// the starting price (the first bid may equal the floor).
func CacheAfterAppend(item types.Item, amount int, bidder string) (CacheState, bool) {
	noBids := item.LastBidderNickname == nil
	if amount > item.CurrentBid || (noBids && amount >= item.StartingPrice) {
		return CacheState{CurrentBid: amount, LastBidderNickname: &bidder}, true
	}
	return CacheState{CurrentBid: item.CurrentBid, LastBidderNickname: item.LastBidderNickname}, false
}

// CacheFromLedger recomputes the cache from the full ledger: the
// top-ranked remaining bid, or the starting-price reset when the
// ledger is empty. Used after a bid delete and by reconciliation.
func CacheFromLedger(item types.Item, bids []types.Bid) CacheState {
	top, ok := TopBid(bids)
	if !ok {
		return CacheState{CurrentBid: item.StartingPrice, LastBidderNickname: nil}
	}
	nickname := top.BidderNickname
	return CacheState{CurrentBid: top.BidAmount, LastBidderNickname: &nickname}
}

// IsInconsistent reports drift between the cached pair and the
// ledger's ground truth. It never repairs anything; repair is an
// explicit reconcile so that drift is surfaced instead of masked.
func IsInconsistent(item types.Item, bids []types.Bid) bool {
	want := CacheFromLedger(item, bids)
	if item.CurrentBid != want.CurrentBid {
		return true
	}
	if (item.LastBidderNickname == nil) != (want.LastBidderNickname == nil) {
		return true
	}
	if item.LastBidderNickname != nil && *item.LastBidderNickname != *want.LastBidderNickname {
		return true
	}
	return false
}
