package cmd

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/dependabot/registry-proxy/internal/actions/client"
	"github.com/dependabot/registry-proxy/internal/actions/github"
	"github.com/dependabot/registry-proxy/internal/infra"
	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/dependabot/registry-proxy/internal/registry"
	"github.com/dependabot/registry-proxy/internal/server"
	"github.com/spf13/cobra"
)

// inputFlags are shared by the commands that need a configuration.
type inputFlags struct {
	config         string
	inputPort      int
	credentialsURL string
	language       string
	unmatched      string
	extended       bool
	proxyAuth      bool
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "path to the configuration, - for stdin")
	cmd.Flags().IntVar(&f.inputPort, "input-port", 0, "port to use for securely passing the configuration")
	cmd.Flags().StringVar(&f.credentialsURL, "credentials-url", "", "fetch additional credentials from this URL")
	cmd.Flags().StringVar(&f.language, "language", "", "only use credentials for this language's registries")
	cmd.Flags().StringVar(&f.unmatched, "unmatched-registries", "", "drop or keep registries without a credential")
	cmd.Flags().BoolVar(&f.extended, "extended-cert-profile", false, "generate the CA with the extended extension profile")
	cmd.Flags().BoolVar(&f.proxyAuth, "proxy-auth", false, "require clients to authenticate to the proxy")
}

// load gathers the configuration from the config document, the input port, the Actions step
// inputs and the credentials URL. Flags override document values.
func (f *inputFlags) load(ctx context.Context, cmd *cobra.Command) (*model.Input, []model.Credential, error) {
	input := &model.Input{}
	switch {
	case f.config != "":
		var err error
		input, err = infra.LoadInput(f.config)
		if err != nil {
			return nil, nil, err
		}
		processInput(input)
	case f.inputPort != 0:
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", f.inputPort))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to listen for input: %w", err)
		}
		input, err = server.Input(ctx, logger, l)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to receive input: %w", err)
		}
		processInput(input)
	case doesStdinHaveData():
		var err error
		input, err = infra.LoadInput("-")
		if err != nil {
			return nil, nil, err
		}
		processInput(input)
	}

	var extra []model.Credential
	inputs := github.Inputs()
	data, source, err := inputs.CredentialsPayload()
	if err != nil {
		return nil, nil, err
	}
	if source != "" {
		creds, err := registry.ParseCredentials(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s: %w", source, err)
		}
		extra = append(extra, creds...)
	}
	if f.credentialsURL != "" {
		creds, err := client.New(f.credentialsURL, settings.CredentialsToken).Credentials(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch credentials: %w", err)
		}
		extra = append(extra, creds...)
	}

	if inputs.Language != "" {
		input.Language = inputs.Language
	}
	flags := cmd.Flags()
	if flags.Changed("language") {
		input.Language = f.language
	}
	if flags.Changed("unmatched-registries") {
		input.UnmatchedRegistries = f.unmatched
	}
	if flags.Changed("extended-cert-profile") {
		input.UseExtendedCertProfile = f.extended
	}
	if flags.Changed("proxy-auth") {
		input.ProxyAuth = f.proxyAuth
	}
	return input, extra, nil
}

// processInput expands environment variables in the credentials of a configuration document and
// adds a github.com credential when LOCAL_GITHUB_ACCESS_TOKEN is set.
func processInput(input *model.Input) {
	for i := range input.Credentials {
		c := &input.Credentials[i]
		c.Username = os.ExpandEnv(c.Username)
		c.Password = os.ExpandEnv(c.Password)
		c.Token = os.ExpandEnv(c.Token)
	}

	if token := os.Getenv("LOCAL_GITHUB_ACCESS_TOKEN"); token != "" {
		input.Credentials = append(input.Credentials, model.Credential{
			Type:     model.GitSource,
			Host:     "github.com",
			Username: "x-access-token",
			Password: token,
		})
	}
}

func doesStdinHaveData() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice == 0 && fi.Size() > 0
}
