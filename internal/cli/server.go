package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fnyamweya/caricash-nova-sub003/internal/approval"
	"github.com/fnyamweya/caricash-nova-sub003/internal/config"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/posting"
	"github.com/fnyamweya/caricash-nova-sub003/internal/di"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/recon"
	"github.com/fnyamweya/caricash-nova-sub003/internal/server/api/rest"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/eventarchive"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/idempotency"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

var bindAddr string

// serverCmd represents the server command (default action)
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the ledger daemon",
	Long: `Start the caricashd server which provides:
- transaction posting endpoints (deposit, withdrawal, p2p, payment, b2b)
- wallet balance and statement reads
- the approval workflow and policy administration
- reconciliation, chain verification and repair tooling

This is the default command when no subcommand is specified.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Set server as the default command
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	}

	serverCmd.Flags().StringVar(&bindAddr, "bind", "", "listen address override, e.g. :8080")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if bindAddr != "" {
		cfg.Server.Addr = bindAddr
	}

	container := di.New()
	if err := di.NewProvider(container, cfg).RegisterAll(); err != nil {
		return err
	}

	srv, err := container.Get(di.ServiceRESTServer)
	if err != nil {
		return err
	}
	server := srv.(*rest.Server)

	queue := container.MustGet(di.ServiceEventQueue).(*events.Queue)
	workflow := container.MustGet(di.ServiceWorkflow).(*approval.Workflow)
	matcher := container.MustGet(di.ServiceReconMatcher).(*recon.Matcher)
	idem := container.MustGet(di.ServiceIdempotency).(*idempotency.Store)
	db := container.MustGet(di.ServiceDatabase).(relationaldb.Database)
	engine := container.MustGet(di.ServicePostingEngine).(*posting.Engine)
	archive := container.MustGet(di.ServiceArchive).(eventarchive.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go queue.Run(ctx)
	go runSweeps(ctx, cfg.Sweeps.Interval, workflow, matcher, idem, db)

	if !quiet {
		fmt.Printf("caricashd listening on %s (driver=%s, archive=%s)\n",
			cfg.Server.Addr, cfg.Database.Driver, cfg.Archive.Backend)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if !quiet {
		fmt.Println("shutting down")
	}
	shutdownCtx := context.Background()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	engine.Close()
	if err := queue.Drain(shutdownCtx); err != nil {
		log.Printf("event drain: %v", err)
	}
	if err := archive.Close(); err != nil {
		log.Printf("archive close: %v", err)
	}
	return db.Close(shutdownCtx)
}

// runSweeps drives the periodic maintenance loops: approval expiry and
// stage escalation, idempotency purge, stale statement escalation.
func runSweeps(ctx context.Context, interval time.Duration, workflow *approval.Workflow,
	matcher *recon.Matcher, idem *idempotency.Store, db relationaldb.Database) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := workflow.ExpireOverdue(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[sweep] approval expiry: %v", err)
		}
		if _, err := workflow.EscalateOverdueStages(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[sweep] stage escalation: %v", err)
		}
		if _, err := idem.PurgeExpired(ctx, db.Handle()); err != nil && ctx.Err() == nil {
			log.Printf("[sweep] idempotency purge: %v", err)
		}
		if _, err := matcher.EscalateStale(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[sweep] statement escalation: %v", err)
		}
	}
}
