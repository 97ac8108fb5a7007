// Package command holds the sqlbridge cobra commands.
package command

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ha1tch/sqlbridge/pkg/log"
	"github.com/ha1tch/sqlbridge/pkg/pool"
	"github.com/ha1tch/sqlbridge/pkg/settings"
)

// App carries what the subcommands share: the resolved settings, the
// process logger and the database opener.
type App struct {
	open   pool.Opener
	stdout io.Writer
	stderr io.Writer

	loader   *settings.Loader
	settings *settings.Settings
	logger   *log.Logger
}

// Option configures the root command.
type Option func(*App)

// WithOpener replaces the SQL Server opener.
func WithOpener(open pool.Opener) Option {
	return func(a *App) {
		a.open = open
	}
}

// WithOutput redirects command output and logging.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(a *App) {
		a.stdout = stdout
		a.stderr = stderr
	}
}

// NewRootCommand creates the sqlbridge command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	app := &App{stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}

	root := &cobra.Command{
		Use:   "sqlbridge",
		Short: "A handle-based boundary layer in front of Microsoft SQL Server",
		Long: `sqlbridge owns SQL Server pools, sessions, cursors and transactions and
exposes them through integer handles and JSON documents.

Settings are resolved in this order:
  1. Command-line flags
  2. SQLBRIDGE_* environment variables (SQLBRIDGE_LOG_LEVEL, SQLBRIDGE_DEBUG, ...)
  3. The file named by --config-file (yaml, json or toml)
  4. Built-in defaults`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flag errors have already been reported with usage by now.
			cmd.SilenceUsage = true
			return app.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.logger != nil {
				app.logger.Close()
			}
		},
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)
	settings.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newServeCommand(app))
	root.AddCommand(newPingCommand(app))
	root.AddCommand(newVersionCommand(app))
	return root
}

func (a *App) init(cmd *cobra.Command) error {
	loader, err := settings.NewLoader(cmd.Flags())
	if err != nil {
		return err
	}
	s, err := loader.Load()
	if err != nil {
		return err
	}
	cfg := s.LoggerConfig()
	cfg.Output = a.stderr

	a.loader = loader
	a.settings = s
	a.logger = log.New(cfg)
	return nil
}
