package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/auth"
	"fairfund/fairfund-backend/internal/database"
	"fairfund/fairfund-backend/internal/ledger"
	"fairfund/fairfund-backend/pkg/units"
)

func (a *app) tokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <address>",
		Short: "Issue a bearer token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = a.cfg.Security.TokenTTL
			}
			token, expires, err := auth.NewIssuer(a.cfg.Security.JWTSecret, ttl).Issue(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"token":      token,
				"expires_at": expires,
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to security.token_ttl)")
	return cmd
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return ledger.NewGormStore(db.Gorm, a.logger).Migrate(cmd.Context())
		},
	}
}

func (a *app) reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Load the persisted ledger and verify its counters and escrow",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeDB, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			stats := l.GetContractStats()
			if err := printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"stats":      stats,
				"recomputed": l.Recompute(),
			}); err != nil {
				return err
			}
			if err := l.CheckInvariants(); err != nil {
				return fmt.Errorf("ledger inconsistent: %w", err)
			}
			a.logger.Info("Ledger consistent",
				zap.Uint64("disbursements", stats.TotalDisbursements),
				zap.String("escrowed", stats.TotalEscrowed.String()))
			return nil
		},
	}
}

func (a *app) expiredCommand() *cobra.Command {
	var donor string
	cmd := &cobra.Command{
		Use:   "expired",
		Short: "List open disbursements whose claim window has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeDB, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			list, err := l.ListDisbursements(ledger.DisbursementFilter{
				Donor:     donor,
				ExpiredAt: time.Now().Unix(),
			})
			if err != nil {
				return err
			}

			type row struct {
				ID       uint64    `json:"id"`
				Donor    string    `json:"donor"`
				Farmer   string    `json:"farmer"`
				Amount   string    `json:"amount"`
				Deadline time.Time `json:"claim_deadline"`
			}
			rows := make([]row, 0, len(list))
			for _, d := range list {
				rows = append(rows, row{
					ID:       d.ID,
					Donor:    d.Donor,
					Farmer:   d.Farmer,
					Amount:   units.Format(d.Amount, a.cfg.Ledger.Decimals, a.cfg.Ledger.Symbol),
					Deadline: time.Unix(d.ClaimDeadline, 0).UTC(),
				})
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVar(&donor, "donor", "", "only this donor's disbursements")
	return cmd
}

func (a *app) connect(ctx context.Context) (*database.DB, error) {
	if !a.cfg.Database.HasDatabase() {
		return nil, errors.New("no database configured (database.host)")
	}
	return database.Connect(ctx, a.cfg.Database, a.logger)
}

// openLedger restores the ledger from postgres without publishing anywhere.
func (a *app) openLedger(ctx context.Context) (*ledger.Ledger, func(), error) {
	db, err := a.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	l, err := ledger.New(ctx, ledger.Options{
		Admin:          a.cfg.Ledger.AdminAddress,
		ReputationRule: ledger.SaturatingStep(a.cfg.Ledger.ReputationStep),
		Store:          ledger.NewGormStore(db.Gorm, a.logger),
		Logger:         a.logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return l, func() { _ = db.Close() }, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
