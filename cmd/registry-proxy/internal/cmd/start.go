package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/dependabot/registry-proxy/internal/actions/core"
	"github.com/dependabot/registry-proxy/internal/environment"
	"github.com/dependabot/registry-proxy/internal/infra"
	"github.com/dependabot/registry-proxy/internal/reachability"
	"github.com/spf13/cobra"
)

// proxyFlags are shared by start and run.
type proxyFlags struct {
	inputFlags
	host    string
	port    int
	noCheck bool
}

func (f *proxyFlags) register(cmd *cobra.Command) {
	f.inputFlags.register(cmd)
	cmd.Flags().StringVar(&f.host, "host", infra.DefaultHost, "address to listen on")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "port to listen on, by default 49152 or a random ephemeral port")
	cmd.Flags().BoolVar(&f.noCheck, "no-check", false, "skip testing the connection to each registry")
}

func (f *proxyFlags) params(ctx context.Context, cmd *cobra.Command) (infra.ProxyParams, error) {
	input, extra, err := f.load(ctx, cmd)
	if err != nil {
		return infra.ProxyParams{}, err
	}
	environment.CheckProxyEnvironment(logger, input.Language)

	params := infra.ProxyParams{
		Input:          input,
		Credentials:    extra,
		Host:           settings.Host,
		Port:           settings.Port,
		RequestTimeout: settings.RequestTimeout,
		IdleTimeout:    settings.IdleTimeout,
		TempDir:        settings.TempDir,
	}
	if cmd.Flags().Changed("host") {
		params.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		params.Port = f.port
	}
	return params, nil
}

var (
	startFlags proxyFlags
	infoOutput string
)

var startCmd = &cobra.Command{
	Use:   "start [flags]",
	Short: "Start the proxy and serve until interrupted",
	Example: heredoc.Doc(`
		$ registry-proxy start --config proxy.yml --output proxy.json
		$ echo '{"credentials":[...]}' | registry-proxy start
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		params, err := startFlags.params(ctx, cmd)
		if err != nil {
			return err
		}
		prox, err := infra.StartProxy(ctx, logger, params)
		if err != nil {
			return err
		}

		if err := writeInfo(cmd, prox); err != nil {
			_ = prox.Close(context.Background())
			return err
		}
		if core.IsActions() {
			if err := prox.SetOutputs(); err != nil {
				_ = prox.Close(context.Background())
				return err
			}
		}

		if !startFlags.noCheck {
			go func() {
				backend, err := reachability.NewNetworkBackend(prox.Info)
				if err != nil {
					logger.Errorf("Failed to test connections: %v", err)
					return
				}
				defer backend.Close()
				reachability.CheckConnections(ctx, logger, prox.Info, backend, reachability.Options{Concurrency: settings.ProbeConcurrency})
			}()
		}

		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
		case err := <-prox.Done():
			return fmt.Errorf("proxy stopped: %w", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return prox.Close(shutdownCtx)
	},
}

func writeInfo(cmd *cobra.Command, prox *infra.Proxy) error {
	data, err := json.MarshalIndent(prox.Info, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if infoOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(infoOutput, data, 0600); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(startCmd)

	startFlags.register(startCmd)
	startCmd.Flags().StringVarP(&infoOutput, "output", "o", "", "write the proxy details as JSON to this file")
}
