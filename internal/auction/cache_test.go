package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

func strptr(s string) *string { return &s }

func TestCacheAfterAppend(t *testing.T) {
	tests := []struct {
		name       string
		item       types.Item
		amount     int
		wantLeader bool
		wantBid    int
	}{
		{
			name:       "first_bid_at_starting_price_leads",
			item:       types.Item{StartingPrice: 100, CurrentBid: 100},
			amount:     100,
			wantLeader: true,
			wantBid:    100,
		},
		{
			name:       "first_bid_below_starting_price_does_not_lead",
			item:       types.Item{StartingPrice: 100, CurrentBid: 100},
			amount:     99,
			wantLeader: false,
			wantBid:    100,
		},
		{
			name:       "higher_bid_displaces_leader",
			item:       types.Item{StartingPrice: 100, CurrentBid: 150, LastBidderNickname: strptr("alice")},
			amount:     160,
			wantLeader: true,
			wantBid:    160,
		},
		{
			name:       "equal_bid_keeps_leader",
			item:       types.Item{StartingPrice: 100, CurrentBid: 150, LastBidderNickname: strptr("alice")},
			amount:     150,
			wantLeader: false,
			wantBid:    150,
		},
		{
			name:       "lower_bid_keeps_leader",
			item:       types.Item{StartingPrice: 100, CurrentBid: 150, LastBidderNickname: strptr("alice")},
			amount:     120,
			wantLeader: false,
			wantBid:    150,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, changed := CacheAfterAppend(tt.item, tt.amount, "bob")
			require.Equal(t, tt.wantLeader, changed)
			require.Equal(t, tt.wantBid, cache.CurrentBid)
			if tt.wantLeader {
				require.NotNil(t, cache.LastBidderNickname)
				require.Equal(t, "bob", *cache.LastBidderNickname)
			} else {
				require.Equal(t, tt.item.LastBidderNickname, cache.LastBidderNickname)
			}
		})
	}
}

func TestCacheIsRunningMax(t *testing.T) {
	item := types.Item{StartingPrice: 100, CurrentBid: 100}

	apply := func(amount int, bidder string) {
		if cache, changed := CacheAfterAppend(item, amount, bidder); changed {
			item.CurrentBid = cache.CurrentBid
			item.LastBidderNickname = cache.LastBidderNickname
		}
	}

	apply(100, "alice")
	apply(300, "bob")
	apply(200, "carol") // lower than running max, ignored
	apply(300, "dave")  // equal, ignored

	require.Equal(t, 300, item.CurrentBid)
	require.Equal(t, "bob", *item.LastBidderNickname)
}

func TestCacheFromLedger(t *testing.T) {
	base := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	item := types.Item{StartingPrice: 100, CurrentBid: 300, LastBidderNickname: strptr("bob")}

	cache := CacheFromLedger(item, []types.Bid{
		bid("b1", 200, 1, "alice", base),
		bid("b2", 300, 1, "bob", base.Add(time.Minute)),
	})
	require.Equal(t, 300, cache.CurrentBid)
	require.Equal(t, "bob", *cache.LastBidderNickname)

	// Deleting the top bid must surface the runner-up.
	cache = CacheFromLedger(item, []types.Bid{bid("b1", 200, 1, "alice", base)})
	require.Equal(t, 200, cache.CurrentBid)
	require.Equal(t, "alice", *cache.LastBidderNickname)

	// Empty ledger resets to the starting price with no leader.
	cache = CacheFromLedger(item, nil)
	require.Equal(t, 100, cache.CurrentBid)
	require.Nil(t, cache.LastBidderNickname)
}

func TestIsInconsistent(t *testing.T) {
	base := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	bids := []types.Bid{bid("b1", 200, 1, "alice", base)}

	consistent := types.Item{StartingPrice: 100, CurrentBid: 200, LastBidderNickname: strptr("alice")}
	require.False(t, IsInconsistent(consistent, bids))

	driftedAmount := types.Item{StartingPrice: 100, CurrentBid: 999, LastBidderNickname: strptr("alice")}
	require.True(t, IsInconsistent(driftedAmount, bids))

	driftedBidder := types.Item{StartingPrice: 100, CurrentBid: 200, LastBidderNickname: strptr("mallory")}
	require.True(t, IsInconsistent(driftedBidder, bids))

	// A bare item with an empty ledger is consistent by definition.
	fresh := types.Item{StartingPrice: 100, CurrentBid: 100}
	require.False(t, IsInconsistent(fresh, nil))

	ghostLeader := types.Item{StartingPrice: 100, CurrentBid: 100, LastBidderNickname: strptr("alice")}
	require.True(t, IsInconsistent(ghostLeader, nil))
}
