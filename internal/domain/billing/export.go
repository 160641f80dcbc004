package billing

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/mediclo/mediclo/internal/platform/auth"
)

const exportSheet = "Invoices"

// ExportHeader lists the columns of the invoice workbook in order.
var ExportHeader = []string{
	"Invoice Number", "Date", "Patient ID", "Patient Name", "Items",
	"Subtotal", "Discount %", "Discount", "Tax %", "Tax", "Total", "Paid", "Due",
	"Payment Mode", "Created By",
}

var exportWidths = []float64{18, 20, 12, 24, 8, 12, 11, 12, 8, 12, 12, 12, 12, 14, 24}

// ExportInvoices renders the caller's invoices, newest first, as an xlsx
// workbook with one row per invoice.
func (s *Service) ExportInvoices(ctx context.Context, caller auth.Identity) ([]byte, error) {
	invoices, err := s.ListInvoices(ctx, caller)
	if err != nil {
		return nil, err
	}
	return renderWorkbook(invoices)
}

func renderWorkbook(invoices []*Invoice) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for i, h := range ExportHeader {
		if err := setCell(f, i+1, 1, h); err != nil {
			return nil, err
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(exportSheet, col, col, exportWidths[i]); err != nil {
			return nil, fmt.Errorf("column width: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(ExportHeader), 1)
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for r, inv := range invoices {
		row := []any{
			inv.Number, inv.CreatedAt.Format("2006-01-02 15:04"), inv.PatientID, inv.PatientName, len(inv.Items),
			inv.Totals.Subtotal, inv.DiscountPercent, inv.Totals.DiscountAmount, inv.TaxPercent, inv.Totals.TaxAmount,
			inv.Totals.Total, inv.Totals.Paid, inv.Totals.Due, inv.PaymentMode, inv.CreatedBy,
		}
		for c, v := range row {
			if err := setCell(f, c+1, r+2, v); err != nil {
				return nil, err
			}
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, v any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(exportSheet, cell, v); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	return nil
}
