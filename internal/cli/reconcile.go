package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fnyamweya/caricash-nova-sub003/internal/config"
	"github.com/fnyamweya/caricash-nova-sub003/internal/di"
	"github.com/fnyamweya/caricash-nova-sub003/internal/recon"
)

var reconcileWindow time.Duration

// reconcileCmd executes one reconciliation run from the command line and
// prints its findings. Useful for cron-driven deployments that reconcile
// outside the daemon.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass over a time window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		container := di.New()
		if err := di.NewProvider(container, cfg).RegisterAll(); err != nil {
			return err
		}
		engine, err := container.Get(di.ServiceReconEngine)
		if err != nil {
			return err
		}

		ctx := context.Background()
		to := time.Now().UTC()
		from := to.Add(-reconcileWindow)
		run, findings, err := engine.(*recon.Engine).Run(ctx, from, to)
		if err != nil {
			return err
		}
		fmt.Printf("run %s finished: %s, %d findings\n", run.ID, run.Status, len(findings))
		for _, f := range findings {
			fmt.Printf("  [%s] %s account=%s discrepancy=%s\n",
				f.Severity, f.Kind, f.AccountID, f.Discrepancy)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().DurationVar(&reconcileWindow, "window", 24*time.Hour, "how far back to reconcile")
}
