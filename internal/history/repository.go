package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"fairfund/fairfund-backend/internal/ledger"
)

// Repository reads the persisted event log
type Repository interface {
	ListEvents(ctx context.Context, f Filter) ([]ledger.EventRecord, error)
	LatestSeq(ctx context.Context) (uint64, error)
}

// PostgresRepository reads ledger_events with plain SQL. Writes go through the
// ledger's store; this side never modifies the table.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new event history repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListEvents returns up to f.Limit events after f.AfterSeq in sequence order
func (r *PostgresRepository) ListEvents(ctx context.Context, f Filter) ([]ledger.EventRecord, error) {
	var conditions []string
	var args []interface{}
	argCount := 0

	argCount++
	conditions = append(conditions, fmt.Sprintf("seq > $%d", argCount))
	args = append(args, f.AfterSeq)

	if f.Account != "" {
		argCount++
		conditions = append(conditions, fmt.Sprintf("(account = $%d OR counterparty = $%d)", argCount, argCount))
		args = append(args, f.Account)
	}

	if f.Kind != "" {
		argCount++
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argCount))
		args = append(args, f.Kind)
	}

	if f.DisbursementID != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("disbursement_id = $%d", argCount))
		args = append(args, *f.DisbursementID)
	}

	argCount++
	query := `
		SELECT seq, kind, account, counterparty, disbursement_id, payload, occurred_at
		FROM ledger_events
		WHERE ` + strings.Join(conditions, " AND ") + fmt.Sprintf(`
		ORDER BY seq ASC
		LIMIT $%d`, argCount)
	args = append(args, f.Limit)

	events := []ledger.EventRecord{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// LatestSeq returns the highest stored sequence number, 0 when empty
func (r *PostgresRepository) LatestSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	if err := r.db.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) FROM ledger_events`); err != nil {
		return 0, fmt.Errorf("failed to read latest event: %w", err)
	}
	return seq, nil
}
