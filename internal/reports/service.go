package reports

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/ledger"
	"fairfund/fairfund-backend/internal/reports/export"
	"fairfund/fairfund-backend/pkg/storage"
	"fairfund/fairfund-backend/pkg/units"
	"fairfund/fairfund-backend/pkg/workflows"
)

// LedgerReader is the read side of the ledger used for reports
type LedgerReader interface {
	GetContractStats() ledger.ContractStats
	GetDonorStats(addr string) (*ledger.Donor, error)
	ListDisbursements(f ledger.DisbursementFilter) ([]*ledger.Disbursement, error)
	BalanceOf(account string) (decimal.Decimal, error)
}

// Archive is where rendered reports are uploaded
type Archive struct {
	Client storage.S3Client
	Bucket string
	Prefix string
	Expiry time.Duration
}

// Service renders ledger reports
type Service struct {
	ledger   LedgerReader
	archive  *Archive
	decimals int32
	symbol   string
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a new reports service. archive may be nil.
func NewService(l LedgerReader, archive *Archive, decimals int32, symbol string, logger *zap.Logger) *Service {
	return &Service{
		ledger:   l,
		archive:  archive,
		decimals: decimals,
		symbol:   symbol,
		now:      time.Now,
		logger:   logger,
	}
}

var disbursementColumns = []export.Column{
	{Key: "id", Label: "ID"},
	{Key: "donor", Label: "Donor"},
	{Key: "farmer", Label: "Farmer"},
	{Key: "amount", Label: "Amount"},
	{Key: "amount_base", Label: "Amount (base units)"},
	{Key: "purpose", Label: "Purpose"},
	{Key: "status", Label: "Status"},
	{Key: "created_at", Label: "Created"},
	{Key: "claim_deadline", Label: "Claim Deadline"},
	{Key: "settled_at", Label: "Settled"},
}

// DisbursementReport renders the disbursements matching f
func (s *Service) DisbursementReport(ctx context.Context, f DisbursementReportFilter, format export.Format) (*Document, error) {
	list, err := s.ledger.ListDisbursements(ledger.DisbursementFilter{
		Donor:  f.Donor,
		Farmer: f.Farmer,
		Status: f.Status,
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	stats := s.ledger.GetContractStats()
	total := decimal.Zero
	counts := map[string]int{}
	for _, d := range list {
		total = total.Add(d.Amount)
		counts[d.Status]++
	}

	subtitle := "All disbursements"
	switch {
	case f.Donor != "":
		subtitle = "Donor " + f.Donor
	case f.Farmer != "":
		subtitle = "Farmer " + f.Farmer
	}
	if f.Status != "" {
		subtitle += ", status " + f.Status
	}

	table := &export.Table{
		Title:       "Disbursements",
		Subtitle:    subtitle,
		Columns:     disbursementColumns,
		Rows:        s.disbursementRows(list),
		GeneratedAt: now,
		Summary: []export.SummaryItem{
			{Label: "Disbursements", Value: len(list)},
			{Label: "Total Amount", Value: s.display(total)},
			{Label: "Open", Value: counts[workflows.StatusOpen]},
			{Label: "Claimed", Value: counts[workflows.StatusClaimed]},
			{Label: "Reclaimed", Value: counts[workflows.StatusReclaimed]},
			{Label: "Ledger Escrow", Value: s.display(stats.TotalEscrowed)},
			{Label: "Ledger Distributed", Value: s.display(stats.TotalFundsDistributed)},
		},
	}

	return s.render(ctx, "disbursements", format, table)
}

// DonorStatement renders one donor's profile and disbursement history
func (s *Service) DonorStatement(ctx context.Context, donor string, format export.Format) (*Document, error) {
	profile, err := s.ledger.GetDonorStats(donor)
	if err != nil {
		return nil, err
	}
	list, err := s.ledger.ListDisbursements(ledger.DisbursementFilter{Donor: profile.Address})
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.BalanceOf(profile.Address)
	if err != nil {
		return nil, err
	}

	escrowed := decimal.Zero
	reclaimed := decimal.Zero
	for _, d := range list {
		switch d.Status {
		case workflows.StatusOpen:
			escrowed = escrowed.Add(d.Amount)
		case workflows.StatusReclaimed:
			reclaimed = reclaimed.Add(d.Amount)
		}
	}

	verified := "No"
	if profile.IsVerified {
		verified = "Yes"
	}

	table := &export.Table{
		Title:       "Donor Statement",
		Subtitle:    fmt.Sprintf("%s (%s)", profile.Name, profile.Address),
		Columns:     disbursementColumns,
		Rows:        s.disbursementRows(list),
		GeneratedAt: s.now().UTC(),
		Summary: []export.SummaryItem{
			{Label: "Donor", Value: profile.Address},
			{Label: "Name", Value: profile.Name},
			{Label: "Verified", Value: verified},
			{Label: "Reputation", Value: profile.ReputationScore},
			{Label: "Registered", Value: time.Unix(profile.RegisteredAt, 0).UTC()},
			{Label: "Total Donated", Value: s.display(profile.TotalDonated)},
			{Label: "Successful Disbursements", Value: profile.SuccessfulDisbursements},
			{Label: "In Escrow", Value: s.display(escrowed)},
			{Label: "Reclaimed", Value: s.display(reclaimed)},
			{Label: "Available Balance", Value: s.display(balance)},
		},
	}

	return s.render(ctx, "statement-"+profile.Address, format, table)
}

// Archive uploads doc and returns a presigned download link
func (s *Service) Archive(ctx context.Context, doc *Document) (*ArchiveResult, error) {
	if s.archive == nil || s.archive.Client == nil {
		return nil, ErrArchiveDisabled
	}

	key := path.Join(s.archive.Prefix, doc.GeneratedAt.UTC().Format("2006/01/02"), uuid.NewString(), doc.Filename())
	if err := s.archive.Client.Upload(ctx, s.archive.Bucket, key, doc.ContentType(), bytes.NewReader(doc.Content)); err != nil {
		return nil, fmt.Errorf("failed to archive report: %w", err)
	}

	url, err := s.archive.Client.GetPresignedURL(ctx, s.archive.Bucket, key, s.archive.Expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign report link: %w", err)
	}

	s.logger.Info("Report archived",
		zap.String("bucket", s.archive.Bucket),
		zap.String("key", key),
		zap.Int("size", len(doc.Content)))

	return &ArchiveResult{
		Bucket:    s.archive.Bucket,
		Key:       key,
		Filename:  doc.Filename(),
		Format:    string(doc.Format),
		Size:      len(doc.Content),
		URL:       url,
		ExpiresAt: s.now().UTC().Add(s.archive.Expiry),
	}, nil
}

func (s *Service) render(ctx context.Context, name string, format export.Format, table *export.Table) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := export.Render(&buf, format, table); err != nil {
		return nil, fmt.Errorf("failed to render %s report: %w", format, err)
	}

	s.logger.Debug("Report rendered",
		zap.String("report", name),
		zap.String("format", string(format)),
		zap.Int("rows", len(table.Rows)))

	return &Document{
		Name:        name,
		Format:      format,
		Content:     buf.Bytes(),
		GeneratedAt: table.GeneratedAt,
	}, nil
}

func (s *Service) disbursementRows(list []*ledger.Disbursement) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(list))
	for _, d := range list {
		var settled interface{}
		if d.SettledAt != 0 {
			settled = time.Unix(d.SettledAt, 0).UTC()
		}
		rows = append(rows, map[string]interface{}{
			"id":             d.ID,
			"donor":          d.Donor,
			"farmer":         d.Farmer,
			"amount":         s.display(d.Amount),
			"amount_base":    d.Amount,
			"purpose":        d.Purpose,
			"status":         d.Status,
			"created_at":     time.Unix(d.Timestamp, 0).UTC(),
			"claim_deadline": time.Unix(d.ClaimDeadline, 0).UTC(),
			"settled_at":     settled,
		})
	}
	return rows
}

func (s *Service) display(amount decimal.Decimal) string {
	return units.Format(amount, s.decimals, s.symbol)
}
