package export

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ExcelExporter exports tables to an xlsx workbook
type ExcelExporter struct {
	file    *excelize.File
	options ExcelOptions
}

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	SheetName       string             `json:"sheet_name"`
	SummarySheet    string             `json:"summary_sheet"`
	FreezeHeader    bool               `json:"freeze_header"`
	AutoFilter      bool               `json:"auto_filter"`
	TimestampFormat string             `json:"timestamp_format"`
	HeaderStyle     *ExcelStyleConfig  `json:"header_style,omitempty"`
	DataStyle       *ExcelStyleConfig  `json:"data_style,omitempty"`
	ColumnWidths    map[string]float64 `json:"column_widths,omitempty"`
	AutoWidth       bool               `json:"auto_width"`
}

// ExcelStyleConfig defines style for cells
type ExcelStyleConfig struct {
	FontBold  bool   `json:"font_bold"`
	FontSize  int    `json:"font_size"`
	FontColor string `json:"font_color"`
	FillColor string `json:"fill_color"`
	Alignment string `json:"alignment"` // left, center, right
	Border    bool   `json:"border"`
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:       "Report",
		SummarySheet:    "Summary",
		FreezeHeader:    true,
		AutoFilter:      true,
		TimestampFormat: "yyyy-mm-dd hh:mm:ss",
		AutoWidth:       true,
		HeaderStyle: &ExcelStyleConfig{
			FontBold:  true,
			FontSize:  11,
			FillColor: "2E7D32",
			FontColor: "FFFFFF",
			Alignment: "center",
			Border:    true,
		},
		DataStyle: &ExcelStyleConfig{
			FontSize:  11,
			Alignment: "left",
			Border:    true,
		},
	}
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	file := excelize.NewFile()
	_ = file.SetSheetName("Sheet1", options.SheetName)

	return &ExcelExporter{
		file:    file,
		options: options,
	}
}

// WriteTable writes the rows of t to the main sheet and, when t has a
// summary, a second sheet of label/value pairs.
func (e *ExcelExporter) WriteTable(t *Table) error {
	if err := e.writeHeader(t.Labels()); err != nil {
		return err
	}
	if err := e.writeRows(t.Rows, t.Keys()); err != nil {
		return err
	}
	if len(t.Summary) == 0 {
		return nil
	}
	return e.writeSummary(t)
}

func (e *ExcelExporter) writeHeader(labels []string) error {
	sheet := e.options.SheetName

	styleID := 0
	if e.options.HeaderStyle != nil {
		id, err := e.createStyle(e.options.HeaderStyle)
		if err != nil {
			return fmt.Errorf("failed to create header style: %w", err)
		}
		styleID = id
	}

	for i, label := range labels {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := e.file.SetCellValue(sheet, cell, label); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		if styleID > 0 {
			_ = e.file.SetCellStyle(sheet, cell, cell, styleID)
		}
	}

	if e.options.FreezeHeader {
		return e.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	return nil
}

func (e *ExcelExporter) writeRows(rows []map[string]interface{}, keys []string) error {
	sheet := e.options.SheetName

	styleID := 0
	if e.options.DataStyle != nil {
		id, err := e.createStyle(e.options.DataStyle)
		if err != nil {
			return fmt.Errorf("failed to create data style: %w", err)
		}
		styleID = id
	}

	widths := make(map[int]float64)
	for i := range keys {
		widths[i] = 10
	}

	for rowIdx, row := range rows {
		for colIdx, key := range keys {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			val := row[key]
			if err := e.setCellValue(sheet, cell, val); err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}
			if styleID > 0 {
				_ = e.file.SetCellStyle(sheet, cell, cell, styleID)
			}
			if w := estimateCellWidth(val); w > widths[colIdx] {
				widths[colIdx] = w
			}
		}
	}

	if e.options.AutoFilter && len(keys) > 0 {
		lastCol, _ := excelize.CoordinatesToCellName(len(keys), len(rows)+1)
		if err := e.file.AutoFilter(sheet, "A1:"+lastCol, nil); err != nil {
			return fmt.Errorf("failed to set auto filter: %w", err)
		}
	}

	if e.options.AutoWidth {
		for colIdx, width := range widths {
			if width > 50 {
				width = 50
			}
			col, _ := excelize.ColumnNumberToName(colIdx + 1)
			_ = e.file.SetColWidth(sheet, col, col, width)
		}
	}
	for i, key := range keys {
		if width, ok := e.options.ColumnWidths[key]; ok {
			col, _ := excelize.ColumnNumberToName(i + 1)
			_ = e.file.SetColWidth(sheet, col, col, width)
		}
	}
	return nil
}

func (e *ExcelExporter) writeSummary(t *Table) error {
	sheet := e.options.SummarySheet
	if _, err := e.file.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to add summary sheet: %w", err)
	}

	row := 1
	if t.Title != "" {
		_ = e.file.SetCellValue(sheet, "A1", t.Title)
		row++
	}
	if t.Subtitle != "" {
		_ = e.file.SetCellValue(sheet, fmt.Sprintf("A%d", row), t.Subtitle)
		row++
	}
	if !t.GeneratedAt.IsZero() {
		_ = e.file.SetCellValue(sheet, fmt.Sprintf("A%d", row), "Generated")
		_ = e.setCellValue(sheet, fmt.Sprintf("B%d", row), t.GeneratedAt)
		row++
	}
	row++

	for _, item := range t.Summary {
		if err := e.file.SetCellValue(sheet, fmt.Sprintf("A%d", row), item.Label); err != nil {
			return err
		}
		if err := e.setCellValue(sheet, fmt.Sprintf("B%d", row), item.Value); err != nil {
			return err
		}
		row++
	}
	_ = e.file.SetColWidth(sheet, "A", "A", 28)
	_ = e.file.SetColWidth(sheet, "B", "B", 48)
	return nil
}

// WriteTo writes the workbook to w
func (e *ExcelExporter) WriteTo(w io.Writer) error {
	return e.file.Write(w)
}

// Close closes the workbook
func (e *ExcelExporter) Close() error {
	return e.file.Close()
}

func (e *ExcelExporter) createStyle(config *ExcelStyleConfig) (int, error) {
	style := &excelize.Style{
		Font: &excelize.Font{
			Bold:  config.FontBold,
			Size:  float64(config.FontSize),
			Color: config.FontColor,
		},
	}

	if config.FillColor != "" {
		style.Fill = excelize.Fill{
			Type:    "pattern",
			Color:   []string{config.FillColor},
			Pattern: 1,
		}
	}

	if config.Alignment != "" {
		style.Alignment = &excelize.Alignment{
			Horizontal: config.Alignment,
			Vertical:   "center",
		}
	}

	if config.Border {
		style.Border = []excelize.Border{
			{Type: "left", Color: "D0D0D0", Style: 1},
			{Type: "top", Color: "D0D0D0", Style: 1},
			{Type: "bottom", Color: "D0D0D0", Style: 1},
			{Type: "right", Color: "D0D0D0", Style: 1},
		}
	}

	return e.file.NewStyle(style)
}

// setCellValue writes val with a type the spreadsheet understands. Amounts stay
// text because base-unit values routinely exceed float64 precision.
func (e *ExcelExporter) setCellValue(sheet, cell string, val interface{}) error {
	switch v := val.(type) {
	case nil:
		return e.file.SetCellValue(sheet, cell, "")
	case decimal.Decimal:
		return e.file.SetCellStr(sheet, cell, v.String())
	case time.Time:
		if v.IsZero() {
			return e.file.SetCellValue(sheet, cell, "")
		}
		if err := e.file.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		style, err := e.file.NewStyle(&excelize.Style{CustomNumFmt: &e.options.TimestampFormat})
		if err != nil {
			return err
		}
		return e.file.SetCellStyle(sheet, cell, cell, style)
	case *time.Time:
		if v == nil {
			return e.file.SetCellValue(sheet, cell, "")
		}
		return e.setCellValue(sheet, cell, *v)
	}
	return e.file.SetCellValue(sheet, cell, val)
}

func estimateCellWidth(val interface{}) float64 {
	switch v := val.(type) {
	case time.Time, *time.Time:
		return 20
	case decimal.Decimal:
		return float64(len(v.String())) + 2
	case string:
		return float64(len(v)) + 2
	}
	return float64(len(fmt.Sprintf("%v", val))) + 2
}
