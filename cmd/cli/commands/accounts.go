package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outpost-vpn/outpost/pkg/types"
)

// Account flag names
const (
	flagToken           = "token"
	flagAccessKeyID     = "access-key-id"
	flagSecretAccessKey = "secret-access-key"
	flagRefreshToken    = "refresh-token"
)

// GetAccountsCmd returns the accounts command group.
func GetAccountsCmd() *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage provider accounts",
	}

	accountsCmd.AddCommand(listAccountsCmd)
	accountsCmd.AddCommand(listLocationsCmd)
	accountsCmd.AddCommand(connectAccountCmd)
	accountsCmd.AddCommand(disconnectAccountCmd)

	connectAccountCmd.Flags().String(flagToken, "", "API token (digitalocean)")
	connectAccountCmd.Flags().String(flagAccessKeyID, "", "Access key ID (lightsail)")
	connectAccountCmd.Flags().String(flagSecretAccessKey, "", "Secret access key (lightsail)")
	connectAccountCmd.Flags().String(flagRefreshToken, "", "OAuth refresh token (gcp)")

	return accountsCmd
}

var listAccountsCmd = &cobra.Command{
	Use:   "list",
	Short: "Show connection state of all supported providers",
	RunE: func(_ *cobra.Command, _ []string) error {
		accounts, err := apiClient.GetAccounts(context.Background())
		if err != nil {
			return fmt.Errorf("error listing accounts: %w", err)
		}
		return printJSON(accounts)
	},
}

var listLocationsCmd = &cobra.Command{
	Use:   "locations <provider>",
	Short: "List locations a provider can create servers in",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		locations, err := apiClient.GetLocations(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("error listing locations: %w", err)
		}
		return printJSON(locations)
	},
}

var connectAccountCmd = &cobra.Command{
	Use:   "connect <provider>",
	Short: "Store a credential and connect a provider account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString(flagToken)
		accessKeyID, _ := cmd.Flags().GetString(flagAccessKeyID)
		secretAccessKey, _ := cmd.Flags().GetString(flagSecretAccessKey)
		refreshToken, _ := cmd.Flags().GetString(flagRefreshToken)

		req := types.ConnectAccountRequest{
			Token:           token,
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			RefreshToken:    refreshToken,
		}
		if err := apiClient.ConnectAccount(context.Background(), args[0], req); err != nil {
			return fmt.Errorf("error connecting account: %w", err)
		}
		fmt.Printf("Account %s connected\n", args[0])
		return nil
	},
}

var disconnectAccountCmd = &cobra.Command{
	Use:   "disconnect <provider>",
	Short: "Remove a provider's credential and take it offline",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := apiClient.DisconnectAccount(context.Background(), args[0]); err != nil {
			return fmt.Errorf("error disconnecting account: %w", err)
		}
		fmt.Printf("Account %s disconnected\n", args[0])
		return nil
	},
}
