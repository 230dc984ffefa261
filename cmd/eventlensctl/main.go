// Command eventlensctl is the operator CLI: password hashing, event
// administration, manual reconcile passes and schema migrations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"eventlens/internal/app"
	"eventlens/internal/platform/config"
	"eventlens/internal/platform/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalOpts struct {
	outputJSON bool
	verbose    bool
}

func rootCmd() *cobra.Command {
	opts := &globalOpts{}
	cmd := &cobra.Command{
		Use:   "eventlensctl",
		Short: "Operate an eventlens deployment",
		Long: `Operator commands for eventlens.

Configuration is read the same way the server reads it: defaults, then the
YAML file named by EVENTLENS_CONFIG, then EVENTLENS_* environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output results as JSON")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")

	cmd.AddCommand(hashPasswordCmd(opts))
	cmd.AddCommand(eventsCmd(opts))
	cmd.AddCommand(reconcileCmd(opts))
	cmd.AddCommand(migrateCmd(opts))
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (o *globalOpts) logger(cfg *config.Config) *slog.Logger {
	if !o.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger.NewWithWriter(os.Stderr, config.LogConfig{Level: cfg.Log.Level, Format: "text"})
}

// buildApp loads config and wires the service graph.
func (o *globalOpts) buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, o.logger(cfg))
}

func (o *globalOpts) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
