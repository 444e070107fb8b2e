package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/coinvault/backend/internal/models"
	"github.com/coinvault/backend/internal/services"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	dryRun  bool
	workers int

	migrateCmd = &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Move legacy USDT balances into the asset map",
		Long: `Finds every account that still carries a balance in the legacy field
and rewrites it into assets.USDT. Accounts are migrated one transaction each,
so the command can be interrupted and re-run safely.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := migrateLegacy(cmd.Context(), services.NewAccountService(store, zlog), store, workers, dryRun, zlog)
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return err
		},
	}

	balanceCmd = &cobra.Command{
		Use:   "balance [accountId]",
		Short: "Print the reconciled balances of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printBalances(cmd.Context(), cmd.OutOrStdout(), services.NewAccountService(store, zlog), args[0])
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export-iso20022 [accountId] [txId]",
		Short: "Print a ledger entry as pacs.008 and pacs.002 XML",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportTransfer(cmd.Context(), cmd.OutOrStdout(), store, args[0], args[1])
		},
	}
)

func init() {
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	migrateCmd.Flags().IntVar(&workers, "workers", 4, "accounts migrated concurrently")
	rootCmd.AddCommand(migrateCmd, balanceCmd, exportCmd)
}

// MigrationSummary counts the outcome of a migrate-legacy run
type MigrationSummary struct {
	Scanned  int64
	Migrated int64
	Failed   int64
	DryRun   bool
}

func (s MigrationSummary) String() string {
	verb := "migrated"
	if s.DryRun {
		verb = "would migrate"
	}
	return fmt.Sprintf("scanned %d accounts, %s %d, failed %d", s.Scanned, verb, s.Migrated, s.Failed)
}

// migrateLegacy migrates every listed account with at most workers in
// flight. A failed account is logged and counted; the run continues.
func migrateLegacy(ctx context.Context, accounts *services.AccountService, lister services.LegacyAccountLister, workers int, dryRun bool, log *zap.Logger) (MigrationSummary, error) {
	summary := MigrationSummary{DryRun: dryRun}

	ids, err := lister.ListLegacyAccountIDs(ctx)
	if err != nil {
		return summary, fmt.Errorf("list legacy accounts: %w", err)
	}

	if workers <= 0 {
		workers = 1
	}

	var migrated, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, id := range ids {
		g.Go(func() error {
			result, err := accounts.MigrateLegacy(gctx, id, dryRun)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				atomic.AddInt64(&failed, 1)
				log.Warn("legacy migration failed", zap.String("account_id", id), zap.Error(err))
				return nil
			}
			if result.Migrated {
				atomic.AddInt64(&migrated, 1)
				log.Debug("legacy balance moved",
					zap.String("account_id", id),
					zap.String("usdt", result.USDT.String()),
					zap.Bool("dry_run", dryRun),
				)
			}
			return nil
		})
	}

	err = g.Wait()
	summary.Scanned = int64(len(ids))
	summary.Migrated = migrated
	summary.Failed = failed
	return summary, err
}

func printBalances(ctx context.Context, out io.Writer, accounts *services.AccountService, accountID string) error {
	balances, err := accounts.Balances(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"accountId": accountID,
		"balances":  balances,
	})
}

// exportTransfer renders one ledger entry of accountID for statement tooling
func exportTransfer(ctx context.Context, out io.Writer, accounts services.AccountStore, accountID, txID string) error {
	account, err := accounts.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}

	entry, ok := account.FindEntry(txID)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrTransactionNotFound, txID)
	}

	iso := services.NewISO20022Service(accounts)

	pacs008, err := iso.CreatePacs008(entry, services.PartiesFor(account, entry))
	if err != nil {
		return err
	}
	creditXML, err := iso.ConvertToXML(pacs008)
	if err != nil {
		return err
	}

	pacs002, err := iso.CreatePacs002(entry, "ACSC")
	if err != nil {
		return err
	}
	statusXML, err := iso.ConvertToXML(pacs002)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "=== pacs.008 ===\n%s\n\n=== pacs.002 ===\n%s\n", creditXML, statusXML)
	return nil
}
