package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// stateRowID is the primary key of the single ledger_state row
const stateRowID = 1

type donorRecord struct {
	Address                 string          `gorm:"primaryKey;size:42"`
	Name                    string          `gorm:"not null"`
	Description             string          `gorm:""`
	TotalDonated            decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	SuccessfulDisbursements uint64          `gorm:"not null;default:0"`
	IsVerified              bool            `gorm:"not null;default:false"`
	ReputationScore         int             `gorm:"not null;default:0"`
	RegisteredAt            int64           `gorm:"not null"`
	Seq                     uint64          `gorm:"not null;uniqueIndex"`
	UpdatedAt               time.Time       `gorm:"autoUpdateTime"`
}

func (donorRecord) TableName() string { return "donors" }

type farmerRecord struct {
	Address              string          `gorm:"primaryKey;size:42"`
	Name                 string          `gorm:"not null"`
	Location             string          `gorm:""`
	FarmType             string          `gorm:""`
	IsVerified           bool            `gorm:"not null;default:false"`
	TotalReceived        decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	LastDisbursementDate int64           `gorm:"not null;default:0"`
	RegisteredAt         int64           `gorm:"not null"`
	Seq                  uint64          `gorm:"not null;uniqueIndex"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime"`
}

func (farmerRecord) TableName() string { return "farmers" }

type disbursementRecord struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement:false"`
	Donor         string          `gorm:"size:42;not null;index"`
	Farmer        string          `gorm:"size:42;not null;index"`
	Amount        decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	Timestamp     int64           `gorm:"not null"`
	Purpose       string          `gorm:""`
	Status        string          `gorm:"size:16;not null;index"`
	ClaimDeadline int64           `gorm:"not null;index"`
	SettledAt     int64           `gorm:"not null;default:0"`
}

func (disbursementRecord) TableName() string { return "disbursements" }

type balanceRecord struct {
	Account string          `gorm:"primaryKey;size:42"`
	Amount  decimal.Decimal `gorm:"type:numeric(78,0);not null"`
}

func (balanceRecord) TableName() string { return "balances" }

type stateRecord struct {
	ID                    uint            `gorm:"primaryKey;autoIncrement:false"`
	Admin                 string          `gorm:"size:42;not null"`
	TotalDonors           uint64          `gorm:"not null"`
	TotalBeneficiaries    uint64          `gorm:"not null"`
	TotalDisbursements    uint64          `gorm:"not null"`
	TotalFundsDistributed decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	TotalEscrowed         decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	EventSeq              uint64          `gorm:"not null"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime"`
}

func (stateRecord) TableName() string { return "ledger_state" }

// EventRecord is one row of the append-only event log. Account is the primary party,
// Counterparty the second one for two-party events.
type EventRecord struct {
	Seq            uint64         `gorm:"primaryKey;autoIncrement:false" db:"seq" json:"seq"`
	Kind           string         `gorm:"size:32;not null;index" db:"kind" json:"kind"`
	Account        string         `gorm:"size:42;not null;index" db:"account" json:"account"`
	Counterparty   *string        `gorm:"size:42;index" db:"counterparty" json:"counterparty,omitempty"`
	DisbursementID *uint64        `gorm:"index" db:"disbursement_id" json:"disbursement_id,omitempty"`
	Payload        datatypes.JSON `gorm:"type:jsonb;not null" db:"payload" json:"payload"`
	OccurredAt     time.Time      `gorm:"not null;index" db:"occurred_at" json:"occurred_at"`
}

func (EventRecord) TableName() string { return "ledger_events" }

// GormStore persists the ledger in PostgreSQL. Each changeset is written in one
// database transaction.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a store over an open gorm connection
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger}
}

// Migrate creates or updates the ledger tables
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&stateRecord{},
		&donorRecord{},
		&farmerRecord{},
		&disbursementRecord{},
		&balanceRecord{},
		&EventRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	s.logger.Info("Ledger tables migrated")
	return nil
}

func (s *GormStore) Load(ctx context.Context) (*Snapshot, error) {
	db := s.db.WithContext(ctx)
	snap := &Snapshot{Balances: make(map[string]decimal.Decimal)}

	var st stateRecord
	err := db.First(&st, stateRowID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fresh database
	case err != nil:
		return nil, fmt.Errorf("failed to load ledger state: %w", err)
	default:
		snap.State = State{
			Admin:    st.Admin,
			EventSeq: st.EventSeq,
			Stats: ContractStats{
				TotalDonors:           st.TotalDonors,
				TotalBeneficiaries:    st.TotalBeneficiaries,
				TotalDisbursements:    st.TotalDisbursements,
				TotalFundsDistributed: st.TotalFundsDistributed,
				TotalEscrowed:         st.TotalEscrowed,
			},
		}
	}

	var donors []donorRecord
	if err := db.Order("seq").Find(&donors).Error; err != nil {
		return nil, fmt.Errorf("failed to load donors: %w", err)
	}
	for _, r := range donors {
		snap.Donors = append(snap.Donors, &Donor{
			Address:                 r.Address,
			Name:                    r.Name,
			Description:             r.Description,
			TotalDonated:            r.TotalDonated,
			SuccessfulDisbursements: r.SuccessfulDisbursements,
			IsVerified:              r.IsVerified,
			ReputationScore:         r.ReputationScore,
			RegisteredAt:            r.RegisteredAt,
			Seq:                     r.Seq,
		})
	}

	var farmers []farmerRecord
	if err := db.Order("seq").Find(&farmers).Error; err != nil {
		return nil, fmt.Errorf("failed to load farmers: %w", err)
	}
	for _, r := range farmers {
		snap.Farmers = append(snap.Farmers, &Farmer{
			Address:              r.Address,
			Name:                 r.Name,
			Location:             r.Location,
			FarmType:             r.FarmType,
			IsVerified:           r.IsVerified,
			TotalReceived:        r.TotalReceived,
			LastDisbursementDate: r.LastDisbursementDate,
			RegisteredAt:         r.RegisteredAt,
			Seq:                  r.Seq,
		})
	}

	var disbursements []disbursementRecord
	if err := db.Order("id").Find(&disbursements).Error; err != nil {
		return nil, fmt.Errorf("failed to load disbursements: %w", err)
	}
	for _, r := range disbursements {
		snap.Disbursements = append(snap.Disbursements, &Disbursement{
			ID:            r.ID,
			Donor:         r.Donor,
			Farmer:        r.Farmer,
			Amount:        r.Amount,
			Timestamp:     r.Timestamp,
			Purpose:       r.Purpose,
			Status:        r.Status,
			ClaimDeadline: r.ClaimDeadline,
			SettledAt:     r.SettledAt,
		})
	}

	var balances []balanceRecord
	if err := db.Find(&balances).Error; err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	for _, r := range balances {
		snap.Balances[r.Account] = r.Amount
	}

	return snap, nil
}

func (s *GormStore) Commit(ctx context.Context, cs *Changeset) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := stateRecord{
			ID:                    stateRowID,
			Admin:                 cs.State.Admin,
			TotalDonors:           cs.State.Stats.TotalDonors,
			TotalBeneficiaries:    cs.State.Stats.TotalBeneficiaries,
			TotalDisbursements:    cs.State.Stats.TotalDisbursements,
			TotalFundsDistributed: cs.State.Stats.TotalFundsDistributed,
			TotalEscrowed:         cs.State.Stats.TotalEscrowed,
			EventSeq:              cs.State.EventSeq,
		}
		if err := upsert(tx, &st); err != nil {
			return fmt.Errorf("failed to save ledger state: %w", err)
		}

		if len(cs.Donors) > 0 {
			recs := make([]donorRecord, 0, len(cs.Donors))
			for _, d := range cs.Donors {
				recs = append(recs, donorRecord{
					Address:                 d.Address,
					Name:                    d.Name,
					Description:             d.Description,
					TotalDonated:            d.TotalDonated,
					SuccessfulDisbursements: d.SuccessfulDisbursements,
					IsVerified:              d.IsVerified,
					ReputationScore:         d.ReputationScore,
					RegisteredAt:            d.RegisteredAt,
					Seq:                     d.Seq,
				})
			}
			if err := upsert(tx, &recs); err != nil {
				return fmt.Errorf("failed to save donors: %w", err)
			}
		}

		if len(cs.Farmers) > 0 {
			recs := make([]farmerRecord, 0, len(cs.Farmers))
			for _, f := range cs.Farmers {
				recs = append(recs, farmerRecord{
					Address:              f.Address,
					Name:                 f.Name,
					Location:             f.Location,
					FarmType:             f.FarmType,
					IsVerified:           f.IsVerified,
					TotalReceived:        f.TotalReceived,
					LastDisbursementDate: f.LastDisbursementDate,
					RegisteredAt:         f.RegisteredAt,
					Seq:                  f.Seq,
				})
			}
			if err := upsert(tx, &recs); err != nil {
				return fmt.Errorf("failed to save farmers: %w", err)
			}
		}

		if len(cs.Disbursements) > 0 {
			recs := make([]disbursementRecord, 0, len(cs.Disbursements))
			for _, d := range cs.Disbursements {
				recs = append(recs, disbursementRecord{
					ID:            d.ID,
					Donor:         d.Donor,
					Farmer:        d.Farmer,
					Amount:        d.Amount,
					Timestamp:     d.Timestamp,
					Purpose:       d.Purpose,
					Status:        d.Status,
					ClaimDeadline: d.ClaimDeadline,
					SettledAt:     d.SettledAt,
				})
			}
			if err := upsert(tx, &recs); err != nil {
				return fmt.Errorf("failed to save disbursements: %w", err)
			}
		}

		if len(cs.Balances) > 0 {
			recs := make([]balanceRecord, 0, len(cs.Balances))
			for account, amount := range cs.Balances {
				recs = append(recs, balanceRecord{Account: account, Amount: amount})
			}
			sort.Slice(recs, func(i, j int) bool { return recs[i].Account < recs[j].Account })
			if err := upsert(tx, &recs); err != nil {
				return fmt.Errorf("failed to save balances: %w", err)
			}
		}

		if len(cs.Events) > 0 {
			recs := make([]EventRecord, 0, len(cs.Events))
			for _, e := range cs.Events {
				rec, err := NewEventRecord(e)
				if err != nil {
					return err
				}
				recs = append(recs, rec)
			}
			// events are append-only; a conflict here means two writers share the database
			if err := tx.Create(&recs).Error; err != nil {
				return fmt.Errorf("failed to append events: %w", err)
			}
		}
		return nil
	})
}

// upsert inserts value or overwrites the conflicting rows. Each call starts its own
// statement; a gorm chain must not be shared between Creates.
func upsert(tx *gorm.DB, value interface{}) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(value).Error
}

// NewEventRecord flattens an event into its log row
func NewEventRecord(e Event) (EventRecord, error) {
	payload, err := EncodeEvent(e)
	if err != nil {
		return EventRecord{}, fmt.Errorf("failed to encode %s event: %w", e.Kind(), err)
	}
	h := e.Header()
	rec := EventRecord{
		Seq:        h.Seq,
		Kind:       string(e.Kind()),
		Payload:    datatypes.JSON(payload),
		OccurredAt: h.At,
	}
	parties := Parties(e)
	if len(parties) > 0 {
		rec.Account = parties[0]
	}
	if len(parties) > 1 {
		rec.Counterparty = &parties[1]
	}
	if id, ok := DisbursementID(e); ok {
		rec.DisbursementID = &id
	}
	return rec, nil
}

// Event decodes the row back into a typed event
func (r EventRecord) Event() (Event, error) {
	return DecodeEvent(EventKind(r.Kind), r.Payload)
}
