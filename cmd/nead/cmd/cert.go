package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/q-controller/nea-supervisor/src/roaming"
	"github.com/spf13/cobra"
)

var certRequest roaming.CertificateRequest
var certOut string

var certCmd = &cobra.Command{
	Use:   "roaming-cert",
	Short: "Generate a roaming authentication key and certificate",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := roaming.GenerateCertificate(certRequest, time.Now())
		if err != nil {
			return err
		}
		if err := os.WriteFile(certOut, bundle, 0600); err != nil {
			return err
		}
		publicKey, err := roaming.PublicKeyFromCertificate(bundle)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), publicKey)
		return nil
	},
}

func init() {
	flags := certCmd.Flags()
	flags.StringVar(&certOut, "out", "", "PEM file to write")
	flags.IntVar(&certRequest.Days, "days", 0, "validity in days (default: as long as allowed)")
	flags.StringVar(&certRequest.CommonName, "cn", "", "subject common name")
	flags.StringVar(&certRequest.Country, "country", "", "subject country")
	flags.StringVar(&certRequest.State, "province", "", "subject state or province")
	flags.StringVar(&certRequest.Locality, "locality", "", "subject locality")
	flags.StringVar(&certRequest.Organization, "org", "", "subject organization")
	flags.StringVar(&certRequest.OrganizationalUnit, "org-unit", "", "subject organizational unit")
	flags.StringVar(&certRequest.EmailAddress, "email", "", "subject email address")
	certCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(certCmd)
}
