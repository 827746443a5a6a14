package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cartella-shop/cartella/internal/config"
	"github.com/cartella-shop/cartella/internal/domain"
	"github.com/cartella-shop/cartella/internal/gateway"
	"github.com/cartella-shop/cartella/internal/infra/catalog"
	"github.com/cartella-shop/cartella/internal/infra/sqlite"
	"github.com/cartella-shop/cartella/internal/ledger"
	"github.com/cartella-shop/cartella/internal/reconcile"
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringP("account", "a", "", "Account charged for the sync operations (required)")
	syncCmd.Flags().StringP("catalog", "f", "", "Catalog file to sync (defaults to the configured path)")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the product catalog with the assistant's knowledge base",
	Long: `Run one full reconciliation pass: new and changed products are pushed
to the remote knowledge base, deactivated ones are retracted. Each
remote operation is debited from the given account before it runs.

File-backed entries are submitted for ingestion but not awaited; run
the daemon for status polling, or re-run sync later.`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	accountID, _ := cmd.Flags().GetString("account")
	if accountID == "" {
		return fmt.Errorf("account required: cartella sync -a ACCOUNT_ID")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.GatewayKey() == "" {
		return fmt.Errorf("gateway credential missing: set %s", cfg.Gateway.APIKeyEnv)
	}

	catalogPath, _ := cmd.Flags().GetString("catalog")
	if catalogPath == "" {
		catalogPath = cfg.Catalog.Path
	}

	items, err := catalog.NewFile(catalogPath).Items(cmd.Context())
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	rec := buildReconciler(cfg, db)

	report, err := rec.Reconcile(cmd.Context(), accountID, items)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Sync %s: %d created, %d updated, %d deleted, %d unchanged, %d failed\n",
		report.RunID, report.Created, report.Updated, report.Deleted, report.Skipped, report.Failed)
	for _, item := range report.Items {
		if item.Err != "" {
			fmt.Fprintf(os.Stdout, "  ✗ %s %s: %s\n", item.Action, item.LocalID, item.Err)
		}
	}
	if report.Aborted {
		fmt.Fprintf(os.Stdout, "Aborted: account %s is out of credits.\n", accountID)
		return fmt.Errorf("sync incomplete: %w", domain.ErrInsufficientBalance)
	}
	return nil
}

// buildReconciler wires a one-shot reconciler without the status
// poller; pending file ingestions are picked up by the daemon.
func buildReconciler(cfg config.Config, db *sqlite.DB) *reconcile.Reconciler {
	led := ledger.New(ledger.Config{
		StandardBalance: cfg.Ledger.StandardBalance,
		ElevatedBalance: cfg.Ledger.ElevatedBalance,
	}, db)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		APIKey:      cfg.GatewayKey(),
		ReplicaName: cfg.Gateway.ReplicaName,
		Timeout:     cfg.GatewayTimeout(),
	})

	rcfg := reconcile.DefaultConfig()
	rcfg.Costs = reconcile.Costs{
		Create: cfg.Ledger.CostCreate,
		Update: cfg.Ledger.CostUpdate,
		Delete: cfg.Ledger.CostDelete,
	}
	return reconcile.New(rcfg, led, gw, db, nil)
}
