package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/ledger"
	"fairfund/fairfund-backend/internal/notifications"
)

const (
	ExpirySweepJob = "expiry-sweep"
	ReconcileJob   = "reconcile"
)

// DisbursementLister finds disbursements
type DisbursementLister interface {
	ListDisbursements(f ledger.DisbursementFilter) ([]*ledger.Disbursement, error)
}

// ExpiryNotifier tells a donor about their expired disbursements
type ExpiryNotifier interface {
	NotifyExpired(ctx context.Context, donor string, expired []*ledger.Disbursement) error
}

// InvariantChecker verifies ledger bookkeeping
type InvariantChecker interface {
	CheckInvariants() error
}

// SweepResult summarises one expiry sweep
type SweepResult struct {
	Expired  int
	Donors   int
	Notified int
	Offline  int
}

// SweepExpired finds open disbursements past their deadline and notifies each
// donor once with all of theirs. Nothing is reclaimed; that stays with the donor.
func SweepExpired(ctx context.Context, l DisbursementLister, n ExpiryNotifier, now time.Time) (SweepResult, error) {
	expired, err := l.ListDisbursements(ledger.DisbursementFilter{ExpiredAt: now.Unix()})
	if err != nil {
		return SweepResult{}, err
	}

	var order []string
	byDonor := make(map[string][]*ledger.Disbursement)
	for _, d := range expired {
		if _, ok := byDonor[d.Donor]; !ok {
			order = append(order, d.Donor)
		}
		byDonor[d.Donor] = append(byDonor[d.Donor], d)
	}

	result := SweepResult{Expired: len(expired), Donors: len(order)}
	for _, donor := range order {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := n.NotifyExpired(ctx, donor, byDonor[donor])
		switch {
		case err == nil:
			result.Notified++
		case errors.Is(err, notifications.ErrNotConnected):
			result.Offline++
		default:
			return result, err
		}
	}
	return result, nil
}

// ExpirySweep wraps SweepExpired as a scheduled job
func ExpirySweep(spec string, l DisbursementLister, n ExpiryNotifier, now func() time.Time, logger *zap.Logger) Job {
	return Job{
		Name:    ExpirySweepJob,
		Spec:    spec,
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			result, err := SweepExpired(ctx, l, n, now())
			if err != nil {
				return err
			}
			if result.Expired > 0 {
				logger.Info("Expired disbursements awaiting reclaim",
					zap.Int("disbursements", result.Expired),
					zap.Int("donors", result.Donors),
					zap.Int("notified", result.Notified),
					zap.Int("offline", result.Offline))
			}
			return nil
		},
	}
}

// Reconcile verifies counters and escrow against a recomputation
func Reconcile(spec string, c InvariantChecker, logger *zap.Logger) Job {
	return Job{
		Name:    ReconcileJob,
		Spec:    spec,
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			if err := c.CheckInvariants(); err != nil {
				return err
			}
			logger.Debug("Ledger reconciled")
			return nil
		},
	}
}
