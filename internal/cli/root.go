// Package cli defines the cobra command tree for marketctl.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/homebid/internal/app"
	"github.com/sudo-init-do/homebid/internal/config"
	"github.com/sudo-init-do/homebid/internal/db"
)

type options struct {
	format string
	sqlite string
}

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "marketctl",
		Short:         "Operate the showing and bounty marketplace",
		Long:          "Administrative commands for the marketplace database: migrations, sweeps, credit adjustments and account roles.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// service logs go to stderr so command output stays parseable
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn})))
		},
	}

	root.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (text|json)")
	root.PersistentFlags().StringVar(&opts.sqlite, "sqlite", "", "use this SQLite file instead of the configured database")

	root.AddCommand(
		newMigrateCmd(opts),
		newSweepCmd(opts),
		newTopupCmd(opts),
		newBalanceCmd(opts),
		newReconcileCmd(opts),
		newPromoteCmd(opts),
	)
	return root
}

// openApp loads configuration from the environment and connects. The
// --sqlite flag overrides the configured database.
func (o *options) openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	if o.sqlite != "" {
		cfg.DB = config.DBConfig{Driver: config.DriverSQLite, SQLitePath: o.sqlite}
	}
	// the CLI never needs the queue; notifications land in the inbox directly
	cfg.RedisAddr = ""

	d, err := db.Open(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a, err := app.New(ctx, cfg, d)
	if err != nil {
		d.Close()
		return nil, err
	}
	return a, nil
}

func (o *options) isJSON() bool {
	return o.format == "json"
}

// print writes v as JSON with --format json, otherwise the text form.
func (o *options) print(w io.Writer, v any, text string) error {
	if o.isJSON() {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
