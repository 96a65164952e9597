package export

import (
	"bytes"

	"github.com/xuri/excelize/v2"

	"github.com/dsr1111/auction-akatsuki/pkg/errors"
)

const sheetName = "Settlement by bidder"

var headers = []string{
	"Bidder",
	"Item",
	"Qty",
	"Unit price (incl. 10% fee)",
	"Total (incl. 10% fee)",
	"Total (excl. fee)",
}

// WriteXLSX renders the settlement report as an xlsx workbook: one
// block per bidder with the bidder cell merged across its rows, a bold
// subtotal row per block and a highlighted grand-total row.
func WriteXLSX(report Report) ([]byte, error) {
	workbook := excelize.NewFile()
	defer workbook.Close()

	index, err := workbook.NewSheet(sheetName)
	if err != nil {
		return nil, errors.Wrap(err, "create sheet")
	}
	workbook.SetActiveSheet(index)
	workbook.DeleteSheet("Sheet1")

	headerStyle, err := workbook.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBorder(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "header style")
	}
	dataStyle, err := workbook.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBorder(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "data style")
	}
	subtotalStyle, err := workbook.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E7E6E6"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBorder(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "subtotal style")
	}
	grandTotalStyle, err := workbook.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"F9D966"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBorder(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "grand total style")
	}

	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		workbook.SetCellValue(sheetName, cell, header)
	}
	workbook.SetCellStyle(sheetName, "A1", "F1", headerStyle)

	widths := []float64{28, 28, 10, 22, 22, 20}
	for col, width := range widths {
		name, _ := excelize.ColumnNumberToName(col + 1)
		workbook.SetColWidth(sheetName, name, name, width)
	}

	row := 2
	for _, block := range report.Blocks {
		blockStart := row
		for i, r := range block.Rows {
			bidder := ""
			if i == 0 {
				bidder = block.BidderDisplay
			}
			writeRow(workbook, row, dataStyle, bidder, r.ItemName, r.Quantity, r.UnitWithFee, r.TotalWithFee, r.TotalWithoutFee)
			row++
		}

		writeRow(workbook, row, subtotalStyle, "", "Subtotal", "", "", block.SubtotalWithFee, block.SubtotalWithoutFee)
		row++

		// Merge the bidder cell over its item rows plus the subtotal.
		startCell, _ := excelize.CoordinatesToCellName(1, blockStart)
		endCell, _ := excelize.CoordinatesToCellName(1, row-1)
		if err := workbook.MergeCell(sheetName, startCell, endCell); err != nil {
			return nil, errors.Wrap(err, "merge bidder cell")
		}

		row++ // blank separator row between bidder blocks
	}

	writeRow(workbook, row, grandTotalStyle, "", "Grand total", "", "", report.GrandTotalWithFee, report.GrandTotalWithoutFee)

	var buf bytes.Buffer
	if err := workbook.Write(&buf); err != nil {
		return nil, errors.Wrap(err, "write workbook")
	}
	return buf.Bytes(), nil
}

func writeRow(workbook *excelize.File, row, style int, values ...interface{}) {
	for col, value := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		workbook.SetCellValue(sheetName, cell, value)
	}
	start, _ := excelize.CoordinatesToCellName(1, row)
	end, _ := excelize.CoordinatesToCellName(len(headers), row)
	workbook.SetCellStyle(sheetName, start, end, style)
}

func thinBorder() []excelize.Border {
	return []excelize.Border{
		{Type: "top", Style: 1},
		{Type: "bottom", Style: 1},
		{Type: "left", Style: 1},
		{Type: "right", Style: 1},
	}
}
