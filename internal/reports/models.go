package reports

import (
	"errors"
	"time"

	"fairfund/fairfund-backend/internal/reports/export"
)

// ErrArchiveDisabled is returned when archiving is requested without a bucket
var ErrArchiveDisabled = errors.New("report archive is not configured")

// DisbursementReportFilter narrows the disbursement report
type DisbursementReportFilter struct {
	Donor  string `form:"donor"`
	Farmer string `form:"farmer"`
	Status string `form:"status"`
}

// Document is a rendered report
type Document struct {
	Name        string
	Format      export.Format
	Content     []byte
	GeneratedAt time.Time
}

// Filename returns the download name, e.g. disbursements-20240101T120000Z.csv
func (d *Document) Filename() string {
	return d.Name + "-" + d.GeneratedAt.UTC().Format("20060102T150405Z") + "." + d.Format.Extension()
}

// ContentType returns the MIME type of the document
func (d *Document) ContentType() string {
	return d.Format.ContentType()
}

// ArchiveResult describes an uploaded report
type ArchiveResult struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Filename  string    `json:"filename"`
	Format    string    `json:"format"`
	Size      int       `json:"size"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
