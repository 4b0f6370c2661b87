// -----------------------------------------------------------------------
// Root command - global flags, configuration and logger bootstrap
// -----------------------------------------------------------------------

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/checkin/internal/app"
	"github.com/ternarybob/checkin/internal/common"
)

// ExitError carries a process exit code through cobra
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// options are the global flags shared by every command
type options struct {
	configFiles []string
	logLevel    string
	dryRun      bool
}

// load resolves configuration with priority: defaults -> files -> .env -> env -> flags
func (o *options) load() (*common.Config, error) {
	files := o.configFiles
	if len(files) == 0 {
		if _, err := os.Stat("checkin.toml"); err == nil {
			files = append(files, "checkin.toml")
		}
	}

	config, err := common.LoadFromFiles(files...)
	if err != nil {
		return nil, err
	}
	common.ApplyFlagOverrides(config, o.logLevel, o.dryRun)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// bootstrap loads configuration, sets up the logger and builds the application
func (o *options) bootstrap() (*app.App, error) {
	config, err := o.load()
	if err != nil {
		return nil, err
	}

	logger := common.SetupLogger(config)
	common.PrintBanner(config, logger)

	application, err := app.New(config, logger)
	if err != nil {
		return nil, err
	}
	return application, nil
}

// quietLogger logs to the console only, at warn unless --log-level is given
func (o *options) quietLogger(config *common.Config) arbor.ILogger {
	config.Logging.Output = []string{"console"}
	if o.logLevel == "" {
		config.Logging.Level = "warn"
	}
	return common.SetupLogger(config)
}

// NewRootCommand builds the command tree. Without a subcommand it performs one run.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "checkin",
		Short: "Daily check-in and CDK redemption for new-api style providers",
		Long: `checkin signs in to every configured account, performs the daily check-in,
redeems any available CDK codes and reports balances.

Environment Variables:
  ACCOUNTS   JSON array of accounts (takes precedence over the accounts file)
  PROVIDERS  JSON object adding or overriding providers`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckIn(cmd, opts)
		},
	}

	root.PersistentFlags().StringArrayVarP(&opts.configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times, later files override earlier ones)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "Skip notification and balance hash persistence")

	root.AddCommand(
		newRunCommand(opts),
		newDaemonCommand(opts),
		newHashCommand(opts),
		newProvidersCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	arbor.NewLogger().Error().Err(err).Msg("checkin failed")
	return 1
}
