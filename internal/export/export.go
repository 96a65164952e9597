package export

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// Report is the settlement reporting aggregation: one row per
// (bidder, item, quantityUsed), grouped into per-bidder blocks with
// subtotals plus a grand total. It consumes only WinningAllocation
// output and never re-derives the settlement itself.
type Report struct {
	Blocks               []BidderBlock
	GrandTotalWithFee    int
	GrandTotalWithoutFee int
}

type BidderBlock struct {
	BidderDisplay      string
	Rows               []Row
	SubtotalWithFee    int
	SubtotalWithoutFee int
}

type Row struct {
	ItemName        string
	Quantity        int
	UnitWithFee     int
	TotalWithFee    int
	TotalWithoutFee int
}

var feeFactor = decimal.RequireFromString("1.1")

// FeeInclusiveUnitPrice applies the 10% auction house fee to a
// per-unit bid amount, rounding to the nearest whole unit.
func FeeInclusiveUnitPrice(amount int) int {
	return int(decimal.NewFromInt(int64(amount)).Mul(feeFactor).Round(0).IntPart())
}

// BuildReport groups the winning allocations of the completed items by
// bidder. Bidders sort by display name, rows within a bidder by item
// name. Items without any winning bid are skipped.
func BuildReport(completed []types.CompletedItem) Report {
	type key struct {
		nickname    string
		discordName string
	}

	blocks := make(map[key]*BidderBlock)
	for _, ci := range completed {
		for _, wb := range ci.WinningBids {
			unitWithFee := FeeInclusiveUnitPrice(wb.BidAmount)
			totalWithFee := unitWithFee * wb.QuantityUsed
			totalWithoutFee := wb.BidAmount * wb.QuantityUsed

			k := key{nickname: wb.BidderNickname}
			if wb.BidderDiscordName != nil {
				k.discordName = *wb.BidderDiscordName
			}

			block, ok := blocks[k]
			if !ok {
				display := k.nickname
				if k.discordName != "" {
					display = k.nickname + " (" + k.discordName + ")"
				}
				block = &BidderBlock{BidderDisplay: display}
				blocks[k] = block
			}
			block.Rows = append(block.Rows, Row{
				ItemName:        ci.Item.Name,
				Quantity:        wb.QuantityUsed,
				UnitWithFee:     unitWithFee,
				TotalWithFee:    totalWithFee,
				TotalWithoutFee: totalWithoutFee,
			})
			block.SubtotalWithFee += totalWithFee
			block.SubtotalWithoutFee += totalWithoutFee
		}
	}

	report := Report{Blocks: make([]BidderBlock, 0, len(blocks))}
	for _, block := range blocks {
		sort.Slice(block.Rows, func(i, j int) bool {
			return block.Rows[i].ItemName < block.Rows[j].ItemName
		})
		report.Blocks = append(report.Blocks, *block)
		report.GrandTotalWithFee += block.SubtotalWithFee
		report.GrandTotalWithoutFee += block.SubtotalWithoutFee
	}
	sort.Slice(report.Blocks, func(i, j int) bool {
		return report.Blocks[i].BidderDisplay < report.Blocks[j].BidderDisplay
	})
	return report
}
