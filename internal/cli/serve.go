package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartella-shop/cartella/internal/api"
	"github.com/cartella-shop/cartella/internal/gateway"
	"github.com/cartella-shop/cartella/internal/infra/catalog"
	"github.com/cartella-shop/cartella/internal/infra/sqlite"
	"github.com/cartella-shop/cartella/internal/ledger"
	"github.com/cartella-shop/cartella/internal/poller"
	"github.com/cartella-shop/cartella/internal/reconcile"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Cartella API daemon",
	Long: `Start the HTTP API server together with the ingestion status poller.
The server handles metered chat, balance queries, and catalog sync
requests until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.GatewayKey() == "" {
		return fmt.Errorf("gateway credential missing: set %s", cfg.Gateway.APIKeyEnv)
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

	gw := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		APIKey:      cfg.GatewayKey(),
		ReplicaName: cfg.Gateway.ReplicaName,
		Timeout:     cfg.GatewayTimeout(),
	})

	pcfg := poller.DefaultConfig()
	pcfg.InitialDelay = cfg.PollerInitialDelay()
	pcfg.MaxDelay = cfg.PollerMaxDelay()
	pcfg.BackoffFactor = cfg.Poller.BackoffFactor
	pcfg.RateLimitFactor = cfg.Poller.RateLimitFactor
	pcfg.MaxAttempts = cfg.Poller.MaxAttempts
	ingest := poller.New(pcfg, gw, db)

	rcfg := reconcile.DefaultConfig()
	rcfg.Costs = reconcile.Costs{
		Create: cfg.Ledger.CostCreate,
		Update: cfg.Ledger.CostUpdate,
		Delete: cfg.Ledger.CostDelete,
	}
	rec := reconcile.New(rcfg, led, gw, db, ingest)

	srv := api.NewServer(led, rec, gw, db, catalog.NewFile(cfg.Catalog.Path), api.Costs{
		Chat:    cfg.Ledger.CostChat,
		Replica: cfg.Ledger.CostReplica,
	})
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go ingest.Run(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[serve] listening on %s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("[serve] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
