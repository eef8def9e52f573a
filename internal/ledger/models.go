package ledger

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"fairfund/fairfund-backend/pkg/workflows"
)

// EscrowAccount is the reserved balance that holds the amounts of open disbursements.
// It is not a valid hex address, so no caller can ever act as it.
const EscrowAccount = "escrow"

// MaxReputation bounds every donor's reputation score
const MaxReputation = 100

// SecondsPerDay converts claim deadline days into seconds
const SecondsPerDay int64 = 86400

// MaxClaimDeadlineDays caps the deadline a donor may choose (roughly a century)
const MaxClaimDeadlineDays int64 = 36500

// Donor is an account that supplies funds
type Donor struct {
	Address                 string          `json:"address"`
	Name                    string          `json:"name"`
	Description             string          `json:"description"`
	TotalDonated            decimal.Decimal `json:"total_donated"`
	SuccessfulDisbursements uint64          `json:"successful_disbursements"`
	IsVerified              bool            `json:"is_verified"`
	ReputationScore         int             `json:"reputation_score"`
	RegisteredAt            int64           `json:"registered_at"`
	Seq                     uint64          `json:"-"`
	DisbursementIDs         []uint64        `json:"-"`
}

// Farmer is an account that receives funds; aggregate counters call it a beneficiary.
type Farmer struct {
	Address              string          `json:"address"`
	Name                 string          `json:"name"`
	Location             string          `json:"location"`
	FarmType             string          `json:"farm_type"`
	IsVerified           bool            `json:"is_verified"`
	TotalReceived        decimal.Decimal `json:"total_received"`
	LastDisbursementDate int64           `json:"last_disbursement_date"`
	RegisteredAt         int64           `json:"registered_at"`
	Seq                  uint64          `json:"-"`
	DisbursementIDs      []uint64        `json:"-"`
}

// Disbursement is an escrowed transfer from one donor to one farmer
type Disbursement struct {
	ID            uint64          `json:"id"`
	Donor         string          `json:"donor"`
	Farmer        string          `json:"farmer"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     int64           `json:"timestamp"`
	Purpose       string          `json:"purpose"`
	Status        string          `json:"status"`
	ClaimDeadline int64           `json:"claim_deadline"`
	SettledAt     int64           `json:"settled_at,omitempty"`
}

// Claimed reports whether the farmer collected the funds. A reclaimed disbursement
// is terminal but not claimed.
func (d *Disbursement) Claimed() bool {
	return d.Status == workflows.StatusClaimed
}

// Open reports whether the amount is still held in escrow
func (d *Disbursement) Open() bool {
	return d.Status == workflows.StatusOpen
}

// Expired reports whether the claim deadline has passed at unix time now
func (d *Disbursement) Expired(now int64) bool {
	return now > d.ClaimDeadline
}

// MarshalJSON adds the derived "claimed" flag expected by existing clients.
func (d Disbursement) MarshalJSON() ([]byte, error) {
	type alias Disbursement
	return json.Marshal(struct {
		alias
		Claimed bool `json:"claimed"`
	}{alias(d), d.Claimed()})
}

// ContractStats holds the ledger-wide aggregate counters
type ContractStats struct {
	TotalDonors           uint64          `json:"total_donors"`
	TotalBeneficiaries    uint64          `json:"total_beneficiaries"`
	TotalFundsDistributed decimal.Decimal `json:"total_funds_distributed"`
	TotalEscrowed         decimal.Decimal `json:"total_escrowed"`
	TotalDisbursements    uint64          `json:"total_disbursements"`
}

// Equal compares two sets of counters
func (s ContractStats) Equal(o ContractStats) bool {
	return s.TotalDonors == o.TotalDonors &&
		s.TotalBeneficiaries == o.TotalBeneficiaries &&
		s.TotalDisbursements == o.TotalDisbursements &&
		s.TotalFundsDistributed.Equal(o.TotalFundsDistributed) &&
		s.TotalEscrowed.Equal(o.TotalEscrowed)
}

// DisbursementFilter narrows ListDisbursements. Zero values match everything.
type DisbursementFilter struct {
	Donor  string
	Farmer string
	Status string
	// ExpiredAt, when non-zero, keeps only open disbursements whose deadline passed
	// before that unix time.
	ExpiredAt int64
}

func (f DisbursementFilter) matches(d *Disbursement) bool {
	if f.Donor != "" && d.Donor != f.Donor {
		return false
	}
	if f.Farmer != "" && d.Farmer != f.Farmer {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.ExpiredAt != 0 && (!d.Open() || !d.Expired(f.ExpiredAt)) {
		return false
	}
	return true
}

func (d *Donor) clone() *Donor {
	c := *d
	c.DisbursementIDs = append([]uint64(nil), d.DisbursementIDs...)
	return &c
}

func (f *Farmer) clone() *Farmer {
	c := *f
	c.DisbursementIDs = append([]uint64(nil), f.DisbursementIDs...)
	return &c
}

func (d *Disbursement) clone() *Disbursement {
	c := *d
	return &c
}
