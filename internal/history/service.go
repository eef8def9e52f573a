package history

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/ledger"
	"fairfund/fairfund-backend/pkg/address"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ErrInvalidFilter is returned for malformed history queries
var ErrInvalidFilter = errors.New("invalid event filter")

var knownKinds = map[ledger.EventKind]bool{
	ledger.KindDonorRegistered:   true,
	ledger.KindFarmerRegistered:  true,
	ledger.KindDonorVerified:     true,
	ledger.KindFarmerVerified:    true,
	ledger.KindFundsDisbursed:    true,
	ledger.KindFundsClaimed:      true,
	ledger.KindFundsReclaimed:    true,
	ledger.KindReputationUpdated: true,
	ledger.KindAccountFunded:     true,
}

// Filter selects events. Account matches either party of an event.
type Filter struct {
	Account        string
	Kind           string
	DisbursementID *uint64
	AfterSeq       uint64
	Limit          int
}

// Page is one batch of events. Pass NextSeq as AfterSeq to continue.
type Page struct {
	Events  []ledger.EventRecord `json:"events"`
	NextSeq uint64               `json:"next_seq"`
	HasMore bool                 `json:"has_more"`
}

// Service serves the event log to indexers and pollers
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new history service
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Events returns the page of events matching f
func (s *Service) Events(ctx context.Context, f Filter) (*Page, error) {
	if f.Account != "" {
		normalized, err := address.Normalize(f.Account)
		if err != nil {
			return nil, fmt.Errorf("%w: account: %v", ErrInvalidFilter, err)
		}
		f.Account = normalized
	}
	if f.Kind != "" && !knownKinds[ledger.EventKind(f.Kind)] {
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidFilter, f.Kind)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}

	limit := f.Limit
	f.Limit = limit + 1
	events, err := s.repo.ListEvents(ctx, f)
	if err != nil {
		s.logger.Error("Failed to read event history", zap.Error(err))
		return nil, err
	}

	page := &Page{Events: events, NextSeq: f.AfterSeq}
	if len(events) > limit {
		page.Events = events[:limit]
		page.HasMore = true
	}
	if n := len(page.Events); n > 0 {
		page.NextSeq = page.Events[n-1].Seq
	}
	return page, nil
}

// LatestSeq returns the sequence number of the newest stored event
func (s *Service) LatestSeq(ctx context.Context) (uint64, error) {
	return s.repo.LatestSeq(ctx)
}
