package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/dependabot/registry-proxy/internal/reachability"
	"github.com/spf13/cobra"
)

var (
	infoFile  string
	proxyAuth string
)

var checkCmd = &cobra.Command{
	Use:   "check [flags]",
	Short: "Test the connection to each registry through a running proxy",
	Example: heredoc.Doc(`
		$ registry-proxy start --config proxy.yml --output proxy.json &
		$ registry-proxy check --info proxy.json
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(infoFile)
		if err != nil {
			return fmt.Errorf("failed to read proxy details: %w", err)
		}
		var info model.ProxyInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("failed to decode proxy details: %w", err)
		}
		if proxyAuth != "" {
			user, password, ok := strings.Cut(proxyAuth, ":")
			if !ok {
				return fmt.Errorf("--proxy-credentials must be user:password")
			}
			info.ProxyAuth = &model.BasicAuthCredentials{Username: user, Password: password}
		}

		backend, err := reachability.NewNetworkBackend(info)
		if err != nil {
			return err
		}
		defer backend.Close()
		reachable := reachability.CheckConnections(cmd.Context(), logger, info, backend, reachability.Options{Concurrency: settings.ProbeConcurrency})
		if len(reachable) != len(info.Registries) {
			return fmt.Errorf("%d of %d registries are unreachable", len(info.Registries)-len(reachable), len(info.Registries))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&infoFile, "info", "i", "", "proxy details written by start --output")
	_ = checkCmd.MarkFlagRequired("info")
	checkCmd.Flags().StringVar(&proxyAuth, "proxy-credentials", "", "user:password for the proxy")
}
