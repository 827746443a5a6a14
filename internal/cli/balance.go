package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cartella-shop/cartella/internal/infra/sqlite"
	"github.com/cartella-shop/cartella/internal/ledger"
)

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().IntP("limit", "n", 10, "Number of recent transactions to show")
}

var balanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT_ID",
	Short: "Show an account's credit balance and recent transactions",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	accountID := args[0]
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	led := ledger.New(ledger.Config{
		StandardBalance: cfg.Ledger.StandardBalance,
		ElevatedBalance: cfg.Ledger.ElevatedBalance,
	}, db)

	account, err := led.Balance(cmd.Context(), accountID)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Account:  %s (%s)\n", account.AccountID, account.Class)
	fmt.Fprintf(os.Stdout, "Balance:  %d credits\n", account.CurrentBalance)
	fmt.Fprintf(os.Stdout, "Spent:    %d credits\n", account.TotalSpent)

	txs, err := led.History(cmd.Context(), accountID, limit)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		return nil
	}

	fmt.Fprintf(os.Stdout, "\nRecent transactions:\n")
	for _, tx := range txs {
		fmt.Fprintf(os.Stdout, "  %s  %-18s %+6d  → %d  %s\n",
			tx.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			tx.Kind, tx.Amount, tx.BalanceAfter, tx.Description)
	}
	return nil
}
