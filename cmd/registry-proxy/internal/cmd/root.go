package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/dependabot/registry-proxy/internal/actions/core"
	"github.com/dependabot/registry-proxy/internal/infra"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	logFile  string

	// populated by the root command before any subcommand runs
	settings infra.Environment
	logger      *logrus.Logger
	closeLog    = func() error { return nil }
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "registry-proxy <command> [flags]",
	Short: "Credential injecting proxy for package registries",
	Long: heredoc.Doc(`
		Run a local forward proxy that authenticates build tools to private package
		registries, so the tools never see the credentials.
	`),
	Example: heredoc.Doc(`
		$ registry-proxy start --config proxy.yml
		$ registry-proxy run --config proxy.yml -- mvn package
	`),
	Version:       Version(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = infra.GetEnvironment()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("log-level") {
			logLevel = settings.LogLevel
		}
		logger, err = infra.NewLogger(logLevel, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if logFile != "" {
			closeLog, err = infra.TeeLogFile(logger, logFile)
			if err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	_, _ = fmt.Fprintln(os.Stderr, "error:", err)
	if core.IsActions() {
		core.Error(fmt.Sprintf("registry-proxy failed: %v", err))
	}
	var exitErr *infra.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		os.Exit(exitErr.Code)
	}
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write the log to this file")
}
