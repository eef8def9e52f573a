package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts csv, xlsx (or excel) and pdf; empty means csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	}
	return "text/csv"
}

// Extension returns the file extension without the dot
func (f Format) Extension() string {
	return string(f)
}

// Column is one table column. Key indexes the row maps; Label is the heading.
type Column struct {
	Key   string
	Label string
}

// SummaryItem is one labelled figure shown above or beside the table
type SummaryItem struct {
	Label string
	Value interface{}
}

// Table is the format-independent content of an export
type Table struct {
	Title       string
	Subtitle    string
	Columns     []Column
	Rows        []map[string]interface{}
	Summary     []SummaryItem
	GeneratedAt time.Time
}

// Keys returns the column keys in order
func (t *Table) Keys() []string {
	keys := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		keys[i] = c.Key
	}
	return keys
}

// Labels returns the column headings in order
func (t *Table) Labels() []string {
	labels := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		labels[i] = c.Label
	}
	return labels
}

// Render writes t to w in format f
func Render(w io.Writer, f Format, t *Table) error {
	switch f {
	case FormatCSV:
		e := NewCSVExporter(w, DefaultCSVOptions())
		if err := e.WriteTable(t); err != nil {
			return err
		}
		return e.Flush()
	case FormatXLSX:
		opts := DefaultExcelOptions()
		opts.SheetName = sheetName(t.Title)
		e := NewExcelExporter(opts)
		defer e.Close()
		if err := e.WriteTable(t); err != nil {
			return err
		}
		return e.WriteTo(w)
	case FormatPDF:
		opts := DefaultPDFOptions()
		opts.Title = t.Title
		opts.Subtitle = t.Subtitle
		if len(t.Columns) > 5 {
			opts.Orientation = "landscape"
		}
		g := NewPDFGenerator(opts)
		if err := g.GenerateReport(t); err != nil {
			return err
		}
		return g.WriteTo(w)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

// excel sheet names are limited to 31 characters and a few forbidden runes
func sheetName(title string) string {
	name := strings.NewReplacer(":", " ", "/", " ", "\\", " ", "?", " ", "*", " ", "[", " ", "]", " ").Replace(title)
	if name == "" {
		return "Report"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

// formatValue renders a cell for text formats
func formatValue(val interface{}, timeLayout, null string) string {
	if val == nil {
		return null
	}
	switch v := val.(type) {
	case string:
		return v
	case decimal.Decimal:
		return v.String()
	case time.Time:
		if v.IsZero() {
			return null
		}
		return v.Format(timeLayout)
	case *time.Time:
		if v == nil || v.IsZero() {
			return null
		}
		return v.Format(timeLayout)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%v", val)
}
