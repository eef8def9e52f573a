package export

import (
	"bytes"
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
)

// PDFGenerator renders a Table as a paginated PDF report
type PDFGenerator struct {
	pdf     *gofpdf.Fpdf
	options PDFOptions
}

// PDFOptions configures PDF generation
type PDFOptions struct {
	PageSize       string     `json:"page_size"`   // A4, Letter, Legal
	Orientation    string     `json:"orientation"` // portrait, landscape
	Title          string     `json:"title"`
	Subtitle       string     `json:"subtitle,omitempty"`
	TimeFormat     string     `json:"time_format"`
	IncludePageNum bool       `json:"include_page_num"`
	HeaderColor    PDFColor   `json:"header_color"`
	AlternateRows  bool       `json:"alternate_rows"`
	AlternateColor PDFColor   `json:"alternate_color"`
	FontFamily     string     `json:"font_family"`
	FontSize       float64    `json:"font_size"`
	HeaderFontSize float64    `json:"header_font_size"`
	TitleFontSize  float64    `json:"title_font_size"`
	Margins        PDFMargins `json:"margins"`
}

// PDFColor represents an RGB color
type PDFColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// PDFMargins represents page margins
type PDFMargins struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// DefaultPDFOptions returns default PDF options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:       "A4",
		Orientation:    "portrait",
		Title:          "Report",
		TimeFormat:     "2006-01-02 15:04 UTC",
		IncludePageNum: true,
		HeaderColor:    PDFColor{R: 46, G: 125, B: 50},
		AlternateRows:  true,
		AlternateColor: PDFColor{R: 242, G: 242, B: 242},
		FontFamily:     "Arial",
		FontSize:       8,
		HeaderFontSize: 9,
		TitleFontSize:  16,
		Margins: PDFMargins{
			Left:   12,
			Right:  12,
			Top:    18,
			Bottom: 18,
		},
	}
}

// NewPDFGenerator creates a new PDF generator
func NewPDFGenerator(options PDFOptions) *PDFGenerator {
	orientation := "P"
	if options.Orientation == "landscape" {
		orientation = "L"
	}

	pdf := gofpdf.New(orientation, "mm", options.PageSize, "")
	pdf.SetMargins(options.Margins.Left, options.Margins.Top, options.Margins.Right)
	pdf.SetAutoPageBreak(false, options.Margins.Bottom)
	pdf.SetTitle(options.Title, true)
	pdf.SetCreator("fairfund", true)

	g := &PDFGenerator{
		pdf:     pdf,
		options: options,
	}
	g.setFooter()
	return g
}

// GenerateReport lays out the title block, the summary and the table of t.
func (g *PDFGenerator) GenerateReport(t *Table) error {
	g.pdf.AddPage()

	g.pdf.SetFont(g.options.FontFamily, "B", g.options.TitleFontSize)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.CellFormat(0, 10, g.options.Title, "", 1, "C", false, 0, "")

	if g.options.Subtitle != "" {
		g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize+2)
		g.pdf.SetTextColor(100, 100, 100)
		g.pdf.CellFormat(0, 7, g.options.Subtitle, "", 1, "C", false, 0, "")
	}

	if !t.GeneratedAt.IsZero() {
		g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
		g.pdf.SetTextColor(128, 128, 128)
		g.pdf.CellFormat(0, 6, "Generated: "+t.GeneratedAt.UTC().Format(g.options.TimeFormat), "", 1, "R", false, 0, "")
	}

	if len(t.Summary) > 0 {
		g.addSummarySection("Summary", t.Summary)
	}
	g.pdf.Ln(6)

	labels := t.Labels()
	keys := t.Keys()
	widths := g.calculateColumnWidths(keys, labels, t.Rows)
	g.addTableHeader(labels, widths)
	g.addTableData(keys, labels, t.Rows, widths)

	if len(t.Rows) == 0 {
		g.pdf.SetFont(g.options.FontFamily, "I", g.options.FontSize)
		g.pdf.SetTextColor(128, 128, 128)
		g.pdf.CellFormat(0, 8, "No records", "", 1, "C", false, 0, "")
	}

	return g.pdf.Error()
}

func (g *PDFGenerator) addSummarySection(title string, items []SummaryItem) {
	g.pdf.Ln(4)
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize+2)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")

	for _, item := range items {
		g.pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize)
		g.pdf.CellFormat(55, 5, item.Label+":", "", 0, "L", false, 0, "")
		g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
		g.pdf.CellFormat(0, 5, g.formatValue(item.Value), "", 1, "L", false, 0, "")
	}
}

// calculateColumnWidths sizes columns to their widest cell, scaled down to fit the page.
func (g *PDFGenerator) calculateColumnWidths(keys, labels []string, rows []map[string]interface{}) []float64 {
	pageWidth, _ := g.pdf.GetPageSize()
	available := pageWidth - g.options.Margins.Left - g.options.Margins.Right

	widths := make([]float64, len(keys))

	g.pdf.SetFont(g.options.FontFamily, "B", g.options.HeaderFontSize)
	for i, label := range labels {
		widths[i] = g.pdf.GetStringWidth(label) + 4
	}

	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
	sample := rows
	if len(sample) > 100 {
		sample = sample[:100]
	}
	for _, row := range sample {
		for i, key := range keys {
			if w := g.pdf.GetStringWidth(g.formatValue(row[key])) + 4; w > widths[i] {
				widths[i] = w
			}
		}
	}

	total := 0.0
	for _, w := range widths {
		total += w
	}
	if total > available {
		scale := available / total
		for i := range widths {
			widths[i] *= scale
		}
	}
	return widths
}

func (g *PDFGenerator) addTableHeader(labels []string, widths []float64) {
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.HeaderFontSize)
	g.pdf.SetFillColor(g.options.HeaderColor.R, g.options.HeaderColor.G, g.options.HeaderColor.B)
	g.pdf.SetTextColor(255, 255, 255)

	for i, label := range labels {
		g.pdf.CellFormat(widths[i], 7, g.fit(label, widths[i]), "1", 0, "C", true, 0, "")
	}
	g.pdf.Ln(-1)
	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
	g.pdf.SetTextColor(0, 0, 0)
}

func (g *PDFGenerator) addTableData(keys, labels []string, rows []map[string]interface{}, widths []float64) {
	_, pageHeight := g.pdf.GetPageSize()

	for i, row := range rows {
		if g.pdf.GetY()+6 > pageHeight-g.options.Margins.Bottom {
			g.pdf.AddPage()
			g.addTableHeader(labels, widths)
		}

		if g.options.AlternateRows && i%2 == 1 {
			g.pdf.SetFillColor(g.options.AlternateColor.R, g.options.AlternateColor.G, g.options.AlternateColor.B)
		} else {
			g.pdf.SetFillColor(255, 255, 255)
		}

		for j, key := range keys {
			g.pdf.CellFormat(widths[j], 6, g.fit(g.formatValue(row[key]), widths[j]), "1", 0, "L", true, 0, "")
		}
		g.pdf.Ln(-1)
	}
}

// fit truncates s with an ellipsis until it fits in width mm
func (g *PDFGenerator) fit(s string, width float64) string {
	if g.pdf.GetStringWidth(s)+2 <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && g.pdf.GetStringWidth(string(r)+"...")+2 > width {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}

func (g *PDFGenerator) formatValue(val interface{}) string {
	return formatValue(val, g.options.TimeFormat, "")
}

// WriteTo writes the PDF to a writer
func (g *PDFGenerator) WriteTo(w io.Writer) error {
	return g.pdf.Output(w)
}

// OutputToBytes returns the PDF as bytes
func (g *PDFGenerator) OutputToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := g.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *PDFGenerator) setFooter() {
	g.pdf.SetFooterFunc(func() {
		if !g.options.IncludePageNum {
			return
		}
		g.pdf.SetY(-12)
		g.pdf.SetFont(g.options.FontFamily, "", 7)
		g.pdf.SetTextColor(128, 128, 128)
		g.pdf.CellFormat(0, 8, fmt.Sprintf("Page %d", g.pdf.PageNo()), "", 0, "C", false, 0, "")
	})
}
