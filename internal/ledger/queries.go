package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"fairfund/fairfund-backend/pkg/workflows"
)

// Owner returns the administrator address fixed at construction
func (l *Ledger) Owner() string {
	return l.admin
}

// GetContractStats returns the aggregate counters
func (l *Ledger) GetContractStats() ContractStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

func (l *Ledger) GetDonorStats(addr string) (*Donor, error) {
	addr, err := normalize(addr)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.donors[addr]
	if !ok {
		return nil, fmt.Errorf("%w: donor %s", ErrNotFound, addr)
	}
	return d.clone(), nil
}

func (l *Ledger) GetFarmerStats(addr string) (*Farmer, error) {
	addr, err := normalize(addr)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	f, ok := l.farmers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: farmer %s", ErrNotFound, addr)
	}
	return f.clone(), nil
}

func (l *Ledger) GetDisbursementDetails(id uint64) (*Disbursement, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if id == 0 || id > uint64(len(l.disbursements)) {
		return nil, fmt.Errorf("%w: disbursement %d", ErrNotFound, id)
	}
	return l.disbursements[id-1].clone(), nil
}

// GetDonorDisbursements returns the ids a donor created, oldest first. Unknown
// donors have none.
func (l *Ledger) GetDonorDisbursements(addr string) []uint64 {
	addr, err := normalize(addr)
	if err != nil {
		return []uint64{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	if d, ok := l.donors[addr]; ok {
		return append([]uint64{}, d.DisbursementIDs...)
	}
	return []uint64{}
}

// GetFarmerDisbursements returns the ids addressed to a farmer, oldest first.
func (l *Ledger) GetFarmerDisbursements(addr string) []uint64 {
	addr, err := normalize(addr)
	if err != nil {
		return []uint64{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	if f, ok := l.farmers[addr]; ok {
		return append([]uint64{}, f.DisbursementIDs...)
	}
	return []uint64{}
}

// GetAllDonors returns donor addresses in registration order
func (l *Ledger) GetAllDonors() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string{}, l.donorOrder...)
}

// GetAllFarmers returns farmer addresses in registration order
func (l *Ledger) GetAllFarmers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string{}, l.farmerOrder...)
}

func (l *Ledger) IsDonorRegistered(addr string) bool {
	addr, err := normalize(addr)
	if err != nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.donors[addr]
	return ok
}

func (l *Ledger) IsFarmerRegistered(addr string) bool {
	addr, err := normalize(addr)
	if err != nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.farmers[addr]
	return ok
}

// Donors returns copies of every donor record in registration order
func (l *Ledger) Donors() []*Donor {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Donor, 0, len(l.donorOrder))
	for _, a := range l.donorOrder {
		out = append(out, l.donors[a].clone())
	}
	return out
}

// Farmers returns copies of every farmer record in registration order
func (l *Ledger) Farmers() []*Farmer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Farmer, 0, len(l.farmerOrder))
	for _, a := range l.farmerOrder {
		out = append(out, l.farmers[a].clone())
	}
	return out
}

// BalanceOf returns the spendable balance of an account. EscrowAccount is accepted
// and reports the funds held for open disbursements.
func (l *Ledger) BalanceOf(account string) (decimal.Decimal, error) {
	if account != EscrowAccount {
		a, err := normalize(account)
		if err != nil {
			return decimal.Zero, err
		}
		account = a
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[account]; ok {
		return b, nil
	}
	return decimal.Zero, nil
}

// ListDisbursements returns the disbursements matching f in id order.
func (l *Ledger) ListDisbursements(f DisbursementFilter) ([]*Disbursement, error) {
	var err error
	if f.Donor != "" {
		if f.Donor, err = normalize(f.Donor); err != nil {
			return nil, err
		}
	}
	if f.Farmer != "" {
		if f.Farmer, err = normalize(f.Farmer); err != nil {
			return nil, err
		}
	}
	if f.Status != "" && f.Status != workflows.StatusOpen &&
		f.Status != workflows.StatusClaimed && f.Status != workflows.StatusReclaimed {
		return nil, fmt.Errorf("%w: unknown disbursement status %q", ErrInvalidFilter, f.Status)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []*Disbursement{}
	for _, d := range l.disbursements {
		if f.matches(d) {
			out = append(out, d.clone())
		}
	}
	return out, nil
}

// Recompute derives the aggregate counters from the entity and disbursement sets.
func (l *Ledger) Recompute() ContractStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.recompute()
}

func (l *Ledger) recompute() ContractStats {
	s := ContractStats{
		TotalDonors:           uint64(len(l.donors)),
		TotalBeneficiaries:    uint64(len(l.farmers)),
		TotalDisbursements:    uint64(len(l.disbursements)),
		TotalFundsDistributed: decimal.Zero,
		TotalEscrowed:         decimal.Zero,
	}
	for _, d := range l.disbursements {
		switch d.Status {
		case workflows.StatusClaimed:
			s.TotalFundsDistributed = s.TotalFundsDistributed.Add(d.Amount)
		case workflows.StatusOpen:
			s.TotalEscrowed = s.TotalEscrowed.Add(d.Amount)
		}
	}
	return s
}

// CheckInvariants verifies the maintained counters against a full recomputation
// and the escrow balance against the open disbursements.
func (l *Ledger) CheckInvariants() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	want := l.recompute()
	if !l.stats.Equal(want) {
		return fmt.Errorf("counters drifted: have %+v, recomputed %+v", l.stats, want)
	}
	escrow := l.balances[EscrowAccount]
	if !escrow.Equal(want.TotalEscrowed) {
		return fmt.Errorf("escrow balance %s does not match open disbursements %s", escrow, want.TotalEscrowed)
	}
	for _, a := range l.donorOrder {
		d := l.donors[a]
		donated := decimal.Zero
		for _, id := range d.DisbursementIDs {
			donated = donated.Add(l.disbursements[id-1].Amount)
		}
		if !donated.Equal(d.TotalDonated) {
			return fmt.Errorf("donor %s total donated %s, disbursements sum to %s", a, d.TotalDonated, donated)
		}
	}
	for a, b := range l.balances {
		if b.Sign() < 0 {
			return fmt.Errorf("account %s has negative balance %s", a, b)
		}
	}
	return nil
}
