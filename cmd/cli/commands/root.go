// Package commands implements the Outpost CLI subcommands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/outpost-vpn/outpost/internal/api/v1/routes"
	"github.com/outpost-vpn/outpost/pkg/api/v1/client"
)

// flag names
const (
	flagServerAddress = "server-address"
)

// environment variable names
const (
	envServerAddress = "OUTPOST_SERVER_ADDRESS"
)

var (
	// apiClient is the shared API client instance
	apiClient client.Client
	// serverAddress holds the target API daemon address. Flag parsing sets this.
	serverAddress string
)

// initClient initializes the API client
func initClient() error {
	var err error
	opts := client.DefaultOptions()
	opts.BaseURL = serverAddress

	apiClient, err = client.NewClient(opts)
	return err
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", routes.DefaultBaseURL, "Address of the Outpost daemon (env: OUTPOST_SERVER_ADDRESS)")

	RootCmd.AddCommand(GetServersCmd())
	RootCmd.AddCommand(GetAccountsCmd())
	RootCmd.AddCommand(GetPromptsCmd())
	RootCmd.AddCommand(GetNotificationsCmd())
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "outpost",
	Short: "Outpost CLI - manage VPN relay servers across cloud providers",
	Long:  `Outpost CLI talks to a running Outpost daemon to create, list and delete VPN relay servers on DigitalOcean, Google Compute Engine and AWS Lightsail.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed(flagServerAddress) {
			if envAddr := os.Getenv(envServerAddress); envAddr != "" {
				serverAddress = envAddr
			}
		}
		if serverAddress == "" {
			return fmt.Errorf("server address cannot be empty")
		}
		return initClient()
	},
}
