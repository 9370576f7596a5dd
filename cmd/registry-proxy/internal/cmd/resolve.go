package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/dependabot/registry-proxy/internal/infra"
	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	resolveFlags inputFlags
	expect       string
)

// resolvedRegistry is the printed form of a ValidRegistry, secrets excluded.
type resolvedRegistry struct {
	Type       model.RegistryType  `yaml:"type,omitempty"`
	URL        string              `yaml:"url"`
	Credential *resolvedCredential `yaml:"credential,omitempty"`
}

type resolvedCredential struct {
	Kind     model.CredentialKind `yaml:"kind"`
	Scope    string               `yaml:"scope"`
	Username string               `yaml:"username,omitempty"`
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [flags]",
	Short: "Print the registries the proxy would serve and their credentials",
	Long: heredoc.Doc(`
		Validate the configuration and print each registry with the credential
		matched to it. Secrets are never printed. With --expect, the result is
		compared with a file and a diff is printed when they differ.
	`),
	Example: heredoc.Doc(`
		$ registry-proxy resolve --config proxy.yml
		$ registry-proxy resolve --config proxy.yml --expect registries.yml
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, extra, err := resolveFlags.load(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		resolved, err := infra.Resolve(logger, input, extra)
		if err != nil {
			return err
		}

		out, err := marshalResolved(resolved.Registries)
		if err != nil {
			return err
		}
		if expect == "" {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}

		want, err := os.ReadFile(expect)
		if err != nil {
			return fmt.Errorf("failed to read expectations: %w", err)
		}
		if diff := infra.Diff(expect, "resolved", string(want), string(out)); diff != "" {
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), diff)
			return fmt.Errorf("resolved registries differ from %s", expect)
		}
		return nil
	},
}

func marshalResolved(registries []model.ValidRegistry) ([]byte, error) {
	printed := make([]resolvedRegistry, 0, len(registries))
	for _, r := range registries {
		p := resolvedRegistry{Type: r.Type, URL: r.URL}
		if r.Authenticated() {
			c := r.Credential
			p.Credential = &resolvedCredential{Kind: c.Kind, Scope: c.Address(), Username: c.Username}
		}
		printed = append(printed, p)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(printed); err != nil {
		return nil, fmt.Errorf("failed to write output: %w", err)
	}
	return buf.Bytes(), nil
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveFlags.register(resolveCmd)
	resolveCmd.Flags().StringVar(&expect, "expect", "", "compare the result with this file")
}
