package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outpost-vpn/outpost/pkg/types"
)

// Server flag names
const (
	flagServerID   = "id"
	flagProvider   = "provider"
	flagLocation   = "location"
	flagServerName = "name"
	flagCached     = "cached"
)

// GetServersCmd returns the servers command group.
func GetServersCmd() *cobra.Command {
	serversCmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage VPN relay servers",
	}

	serversCmd.AddCommand(listServersCmd)
	serversCmd.AddCommand(listRecordsCmd)
	serversCmd.AddCommand(createServerCmd)
	serversCmd.AddCommand(creatingStatusCmd)
	serversCmd.AddCommand(cancelCreationCmd)
	serversCmd.AddCommand(probeServerCmd)
	serversCmd.AddCommand(renameServerCmd)
	serversCmd.AddCommand(deleteServerCmd)

	listServersCmd.Flags().Bool(flagCached, false, "Serve the daemon's last snapshot without contacting providers")

	createServerCmd.Flags().StringP(flagProvider, "p", "", "Cloud provider (digitalocean, gcp, lightsail)")
	createServerCmd.Flags().StringP(flagLocation, "l", "", "Location/region/zone ID")
	createServerCmd.Flags().StringP(flagServerName, "n", "", "Server name")
	_ = createServerCmd.MarkFlagRequired(flagProvider)
	_ = createServerCmd.MarkFlagRequired(flagLocation)
	_ = createServerCmd.MarkFlagRequired(flagServerName)

	cancelCreationCmd.Flags().StringP(flagProvider, "p", "", "Cloud provider of the in-flight creation")
	_ = cancelCreationCmd.MarkFlagRequired(flagProvider)

	probeServerCmd.Flags().StringP(flagServerID, "i", "", "Server id (management URL)")
	_ = probeServerCmd.MarkFlagRequired(flagServerID)

	renameServerCmd.Flags().StringP(flagServerID, "i", "", "Server id (management URL)")
	renameServerCmd.Flags().StringP(flagServerName, "n", "", "New display name")
	_ = renameServerCmd.MarkFlagRequired(flagServerID)
	_ = renameServerCmd.MarkFlagRequired(flagServerName)

	deleteServerCmd.Flags().StringP(flagServerID, "i", "", "Server id (management URL)")
	_ = deleteServerCmd.MarkFlagRequired(flagServerID)

	return serversCmd
}

func printJSON(v interface{}) error {
	prettyJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Println(string(prettyJSON))
	return nil
}

var listServersCmd = &cobra.Command{
	Use:   "list",
	Short: "List servers across all connected accounts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cached, err := cmd.Flags().GetBool(flagCached)
		if err != nil {
			return fmt.Errorf("error getting cached flag: %w", err)
		}

		servers, err := apiClient.GetServers(context.Background(), cached)
		if err != nil {
			return fmt.Errorf("error listing servers: %w", err)
		}
		return printJSON(servers)
	},
}

var listRecordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List persisted display records without contacting providers",
	RunE: func(_ *cobra.Command, _ []string) error {
		records, err := apiClient.GetServerRecords(context.Background())
		if err != nil {
			return fmt.Errorf("error listing server records: %w", err)
		}
		return printJSON(records)
	},
}

var createServerCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new relay server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		provider, _ := cmd.Flags().GetString(flagProvider)
		location, _ := cmd.Flags().GetString(flagLocation)
		name, _ := cmd.Flags().GetString(flagServerName)

		req := types.CreateServerRequest{
			Provider:   provider,
			LocationID: location,
			Name:       name,
		}
		if err := apiClient.CreateServer(context.Background(), req); err != nil {
			return fmt.Errorf("error creating server: %w", err)
		}
		fmt.Println("Creation started; follow progress with 'outpost servers creating'")
		return nil
	},
}

var creatingStatusCmd = &cobra.Command{
	Use:   "creating",
	Short: "Show in-flight server creations",
	RunE: func(_ *cobra.Command, _ []string) error {
		statuses, err := apiClient.GetCreatingStatus(context.Background())
		if err != nil {
			return fmt.Errorf("error getting creation status: %w", err)
		}
		return printJSON(statuses)
	},
}

var cancelCreationCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel an in-flight creation and delete the partial host",
	RunE: func(cmd *cobra.Command, _ []string) error {
		provider, _ := cmd.Flags().GetString(flagProvider)

		if err := apiClient.CancelCreation(context.Background(), provider); err != nil {
			return fmt.Errorf("error cancelling creation: %w", err)
		}
		fmt.Println("Creation cancelled")
		return nil
	},
}

var probeServerCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that a server answers on its management URL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, _ := cmd.Flags().GetString(flagServerID)

		if err := apiClient.ProbeServer(context.Background(), id); err != nil {
			return fmt.Errorf("error probing server: %w", err)
		}
		fmt.Println("Server is reachable")
		return nil
	},
}

var renameServerCmd = &cobra.Command{
	Use:   "rename",
	Short: "Rename a server (display name only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, _ := cmd.Flags().GetString(flagServerID)
		name, _ := cmd.Flags().GetString(flagServerName)

		if err := apiClient.RenameServer(context.Background(), id, name); err != nil {
			return fmt.Errorf("error renaming server: %w", err)
		}
		fmt.Println("Server renamed")
		return nil
	},
}

var deleteServerCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a server and its static address",
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, _ := cmd.Flags().GetString(flagServerID)

		if err := apiClient.DeleteServer(context.Background(), id); err != nil {
			return fmt.Errorf("error deleting server: %w", err)
		}
		fmt.Println("Server deleted")
		return nil
	},
}
