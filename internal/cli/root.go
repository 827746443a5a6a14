// Package cli implements the cartella command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cartella-shop/cartella/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cartella",
	Short: "AI shopping assistant gateway for the Cartella storefront",
	Long: `Cartella meters storefront access to a remote AI assistant and keeps
the assistant's knowledge base in sync with the product catalog.

Every remote operation is charged against a prepaid per-account credit
balance; the full audit trail is kept in a local SQLite store.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "cartella.toml", "Path to the TOML config file")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configured TOML file, falling back to defaults
// when it does not exist.
func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
