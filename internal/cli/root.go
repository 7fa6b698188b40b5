package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/parley/internal/app"
	"github.com/roach88/parley/internal/config"
	"github.com/roach88/parley/internal/engine"
	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides the config file's database

	// Config and Logger are filled in before any subcommand runs.
	Config config.Config
	Logger *slog.Logger

	configured bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the parley CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "parley",
		Version: ir.Version,
		Short:   "parley - guideline relationships and agent sessions",
		Long: `Manage an agent's guidelines and the relationships between them, and
hold sessions with the agent.

Guidelines are applied from batch files (CUE or YAML). Sessions are stored
in the same SQLite database; posting a customer message dispatches the
agent, which answers in the session's event log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultFile, "config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database path (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewGuidelinesCommand(opts))
	cmd.AddCommand(NewRelationshipsCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setup validates the global flags, loads the config file and builds the
// logger. An explicit --config must exist; the default file is optional.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if err := o.checkFormat(); err != nil {
		return err
	}

	cfg, err := config.Load(o.ConfigPath, cmd.Flags().Changed("config"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}

	logger, err := cfg.NewLogger(cmd.ErrOrStderr(), o.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	o.Config = cfg
	o.Logger = logger
	o.configured = true
	return nil
}

func (o *RootOptions) checkFormat() error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}
	return nil
}

// settings returns the effective config. Commands built without the root
// command (as in tests) get the defaults plus --db.
func (o *RootOptions) settings() config.Config {
	if o.configured {
		return o.Config
	}
	cfg := config.Default()
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg
}

func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runtime is an open store with an Application over it.
type runtime struct {
	config config.Config
	store  *store.Store
	app    *app.Application
}

// open opens the configured database and wires an Application with the
// acknowledging engine.
func (o *RootOptions) open() (*runtime, error) {
	cfg := o.settings()
	logger := o.logger()

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database, err)
	}

	eng := engine.NewAcknowledger(st.Sessions(),
		engine.WithGreeting(cfg.Agent.Greeting),
		engine.WithEngineLogger(logger),
	)
	a := app.New(st, eng, app.WithLogger(logger))
	return &runtime{config: cfg, store: st, app: a}, nil
}

// Close stops any processing still running and closes the database.
func (r *runtime) Close(ctx context.Context) {
	_ = r.app.Shutdown(context.WithoutCancel(ctx))
	_ = r.store.Close()
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
