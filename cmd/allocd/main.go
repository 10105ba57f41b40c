// Command allocd is the operational tool for the work item allocation
// tables: it generates and applies schema migrations and runs assignment
// index repair sweeps.
//
// Usage:
//
//	allocd migrate-gen --dialect postgres --output migrations
//	allocd migrate-apply --driver postgres --dsn "postgres://..."
//	allocd sweep --dsn "postgres://..." --interval 5m
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/curately/workalloc/internal/cli"
)

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "allocd",
		Short: "Operational tooling for work item allocation",
		Long: `allocd manages the infrastructure behind work item allocation:
schema migrations for the work item and assignment index tables, and
periodic repair of the best-effort assignment index.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./allocd.yaml or $HOME/.workalloc/allocd.yaml)")
	cobra.OnInitialize(func() { cli.InitConfig(cfgFile) })

	rootCmd.AddCommand(cli.MigrateGenCmd())
	rootCmd.AddCommand(cli.MigrateApplyCmd())
	rootCmd.AddCommand(cli.SweepCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
