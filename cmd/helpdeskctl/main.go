// Command helpdeskctl runs administrative tasks against the helpdesk database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/app"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/observability"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "helpdeskctl",
		Short:         "Helpdesk administration",
		Long:          `Administrative commands for the helpdesk: schema migrations, role promotion and ticket maintenance.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newMigrateCommand(),
		newUsersCommand(),
		newTicketsCommand(),
		newSLACommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cliEnv holds configuration and a logger for one command invocation.
type cliEnv struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadEnv() (*cliEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &cliEnv{cfg: cfg, logger: logger}, nil
}

// withContainer runs fn against a fully wired container without applying migrations.
func withContainer(ctx context.Context, fn func(*app.Container) error) error {
	rt, err := loadEnv()
	if err != nil {
		return err
	}
	defer rt.logger.Sync() //nolint:errcheck

	c, err := app.Build(ctx, rt.cfg, rt.logger, false)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
