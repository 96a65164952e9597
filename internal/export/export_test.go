package export

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

func strptr(s string) *string { return &s }

func TestFeeInclusiveUnitPrice(t *testing.T) {
	tests := []struct {
		amount int
		want   int
	}{
		{100, 110},
		{0, 0},
		{1, 1},    // 1.1 rounds down
		{5, 6},    // 5.5 rounds up
		{15, 17},  // 16.5 rounds up
		{14, 15},  // 15.4 rounds down
		{333, 366},
		{1000000, 1100000},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, FeeInclusiveUnitPrice(tt.amount), "amount %d", tt.amount)
	}
}

func completedFixture() []types.CompletedItem {
	return []types.CompletedItem{
		{
			Item: types.Item{ID: "i1", Name: "Beelzemon X"},
			WinningBids: []types.WinningAllocation{
				{BidID: "b1", BidderNickname: "alice", BidderDiscordName: strptr("alice#1"), BidAmount: 100, QuantityUsed: 2},
				{BidID: "b2", BidderNickname: "bob", BidAmount: 90, QuantityUsed: 1},
			},
		},
		{
			Item: types.Item{ID: "i2", Name: "Chrome Digizoid"},
			WinningBids: []types.WinningAllocation{
				{BidID: "b3", BidderNickname: "alice", BidderDiscordName: strptr("alice#1"), BidAmount: 50, QuantityUsed: 3},
			},
		},
		{
			Item: types.Item{ID: "i3", Name: "No Bids Lot"},
		},
	}
}

func TestBuildReport(t *testing.T) {
	report := BuildReport(completedFixture())

	require.Len(t, report.Blocks, 2)

	alice := report.Blocks[0]
	require.Equal(t, "alice (alice#1)", alice.BidderDisplay)
	require.Len(t, alice.Rows, 2)
	// Rows sort by item name within the block.
	require.Equal(t, "Beelzemon X", alice.Rows[0].ItemName)
	require.Equal(t, "Chrome Digizoid", alice.Rows[1].ItemName)

	require.Equal(t, 110, alice.Rows[0].UnitWithFee)
	require.Equal(t, 220, alice.Rows[0].TotalWithFee)
	require.Equal(t, 200, alice.Rows[0].TotalWithoutFee)
	require.Equal(t, 55, alice.Rows[1].UnitWithFee)
	require.Equal(t, 220+165, alice.SubtotalWithFee)
	require.Equal(t, 200+150, alice.SubtotalWithoutFee)

	bob := report.Blocks[1]
	require.Equal(t, "bob", bob.BidderDisplay)
	require.Len(t, bob.Rows, 1)
	require.Equal(t, 99, bob.SubtotalWithFee)
	require.Equal(t, 90, bob.SubtotalWithoutFee)

	require.Equal(t, alice.SubtotalWithFee+bob.SubtotalWithFee, report.GrandTotalWithFee)
	require.Equal(t, alice.SubtotalWithoutFee+bob.SubtotalWithoutFee, report.GrandTotalWithoutFee)
}

func TestBuildReport_SplitsSameNicknameDifferentDiscord(t *testing.T) {
	completed := []types.CompletedItem{
		{
			Item: types.Item{ID: "i1", Name: "Lot"},
			WinningBids: []types.WinningAllocation{
				{BidID: "b1", BidderNickname: "alice", BidderDiscordName: strptr("alice#1"), BidAmount: 10, QuantityUsed: 1},
				{BidID: "b2", BidderNickname: "alice", BidderDiscordName: strptr("alice#2"), BidAmount: 10, QuantityUsed: 1},
			},
		},
	}

	report := BuildReport(completed)
	require.Len(t, report.Blocks, 2)
}

func TestBuildReport_Empty(t *testing.T) {
	report := BuildReport(nil)
	require.Empty(t, report.Blocks)
	require.Zero(t, report.GrandTotalWithFee)
	require.Zero(t, report.GrandTotalWithoutFee)
}
