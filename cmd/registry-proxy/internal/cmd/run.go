package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/dependabot/registry-proxy/internal/infra"
	"github.com/spf13/cobra"
)

var (
	runFlags    proxyFlags
	stopSignal  string
	stopTimeout time.Duration
	prefix      string
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...]",
	Short: "Run a command behind the proxy",
	Long: heredoc.Doc(`
		Start the proxy, run the command with HTTP_PROXY, HTTPS_PROXY and the CA
		certificate variables set, and stop the proxy when the command exits.
		The command's exit code is returned.
	`),
	Example: heredoc.Doc(`
		$ registry-proxy run --config proxy.yml -- mvn -B package
		$ registry-proxy run --config proxy.yml --prefix "npm | " -- npm ci
	`),
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		params, err := runFlags.params(ctx, cmd)
		if err != nil {
			return err
		}
		return infra.Run(ctx, logger, infra.RunParams{
			ProxyParams:      params,
			Command:          args,
			StopSignal:       stopSignal,
			StopTimeout:      stopTimeout,
			Prefix:           prefix,
			CheckConnections: !runFlags.noCheck,
			ProbeConcurrency: settings.ProbeConcurrency,
			Stdout:           cmd.OutOrStdout(),
			Stderr:           cmd.ErrOrStderr(),
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runFlags.register(runCmd)
	runCmd.Flags().StringVar(&stopSignal, "stop-signal", "SIGTERM", "signal sent to the command when interrupted")
	runCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "time to wait after the stop signal before killing the command")
	runCmd.Flags().StringVar(&prefix, "prefix", "", "prefix every line of the command output")
}
