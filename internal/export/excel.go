package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"bookmirror/internal/aggregate"
)

const sheetName = "Slots"

var workbookColumns = []string{
	"SKU", "Date", "Start", "End", "Unlimited",
	"Total Places", "Total Booked", "Available", "Tags", "Bookings",
}

// WriteWorkbook renders the projections as an Excel workbook with a single
// Slots sheet, one row per record.
func WriteWorkbook(w io.Writer, records []aggregate.Projection) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", sheetName)

	for i, col := range workbookColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return err
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, 1)
		endCell, _ := excelize.CoordinatesToCellName(len(workbookColumns), 1)
		_ = f.SetCellStyle(sheetName, startCell, endCell, style)
	}

	for rowIdx, rec := range records {
		row := []interface{}{
			rec.SKU,
			rec.Date,
			rec.Start,
			rec.End,
			rec.Unlimited,
			intOrBlank(rec.TotalPlaces),
			rec.TotalBooked,
			intOrBlank(rec.AvailablePlaces),
			strings.Join(rec.Tags, ", "),
			len(rec.Bookings),
		}
		for colIdx, val := range row {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, val); err != nil {
				return fmt.Errorf("write row %d: %w", rowIdx+2, err)
			}
		}
	}

	return f.Write(w)
}

func intOrBlank(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
