package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ternarybob/checkin/internal/app"
	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/httpclient"
	"github.com/ternarybob/checkin/internal/models"
	"github.com/ternarybob/checkin/internal/providers"
)

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one check-in pass over all accounts",
		Long:  `Exits 0 when at least one authentication method succeeded, 1 otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckIn(cmd, opts)
		},
	}
}

func runCheckIn(cmd *cobra.Command, opts *options) error {
	application, err := opts.bootstrap()
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.RunOnce(cmd.Context())
	if err != nil {
		application.Logger.Error().Err(err).Msg("Failed to load accounts")
		return &ExitError{Code: 1}
	}

	if code := result.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

func newDaemonCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run check-ins on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer application.Close()

			application.Logger.Info().
				Str("schedule", application.Config.Scheduler.Schedule).
				Bool("run_on_start", application.Config.Scheduler.RunOnStart).
				Msg("Daemon started - Press Ctrl+C to stop")
			return application.Daemon(cmd.Context())
		},
	}
}

func newHashCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Print the stored balance hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.load()
			if err != nil {
				return err
			}
			application, err := app.New(config, opts.quietLogger(config))
			if err != nil {
				return err
			}
			defer application.Close()

			hash, err := application.StoredHash(cmd.Context())
			if err != nil {
				return err
			}
			if hash == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no balance hash stored")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", application.Detector.Key(), hash)
			return nil
		},
	}
}

func newProvidersCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the registered providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.load()
			if err != nil {
				return err
			}
			logger := opts.quietLogger(config)

			registry := providers.NewRegistry(httpclient.NewClient(), logger)
			registry.ApplyOverrides(config.Providers)

			ids := registry.IDs()
			sort.Strings(ids)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tORIGIN\tBYPASS\tCHECK-IN\tSOURCES")
			for _, id := range ids {
				p, _ := registry.Get(id)
				sources := "-"
				if len(p.Sources) > 0 {
					sources = strings.Join(p.Sources, ",")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Origin, p.Bypass, checkInMode(p), sources)
			}
			return w.Flush()
		},
	}
}

func checkInMode(p *models.Provider) string {
	switch {
	case !p.NeedsManualCheckIn():
		return "implicit"
	case p.CheckIn.IsSigned():
		return "signed"
	}
	return "manual"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "checkin version %s\n", common.GetFullVersion())
		},
	}
}
