package cmd

import (
	"fmt"

	"github.com/dependabot/registry-proxy/internal/infra"
	"github.com/spf13/cobra"
)

var (
	caExtended bool
	caWithKey  bool
)

var caCmd = &cobra.Command{
	Use:   "ca [flags]",
	Short: "Generate a certificate authority and print its certificate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := infra.ProfileFor(caExtended)
		ca, err := infra.GenerateCertificateAuthority(profile)
		if err != nil {
			return err
		}
		logger.Debugf("Generated CA with the %s profile", profile)

		out := cmd.OutOrStdout()
		if _, err := fmt.Fprint(out, ca.Cert); err != nil {
			return err
		}
		if caWithKey {
			_, err = fmt.Fprint(out, ca.Key)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(caCmd)

	caCmd.Flags().BoolVar(&caExtended, "extended", false, "use the extended extension profile")
	caCmd.Flags().BoolVar(&caWithKey, "with-key", false, "also print the private key")
}
