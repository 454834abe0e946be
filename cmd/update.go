package cmd

import (
	"fmt"

	"github.com/bootupd/bootupd-go/pkg/ipc"
	"github.com/bootupd/bootupd-go/pkg/orchestrator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var updateFlags struct {
	component string
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply a staged update to a boot component",
	Long: `Apply the update staged under /usr/lib/bootupd/updates for the named
component, if one is available and newer than what's installed.`,
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().StringVar(&updateFlags.component, "component", "", "component to update (EFI or BIOS)")
	_ = updateCmd.MarkFlagRequired("component")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	jsonOutput := viper.GetBool("json")

	client, err := connectDaemon()
	if err != nil {
		if jsonOutput {
			return outputJSONError("failed to connect to bootupd", err)
		}
		return err
	}
	defer client.Close()

	var result orchestrator.ComponentUpdateResult
	req := ipc.ClientRequest{Kind: ipc.RequestUpdate, Component: updateFlags.component}
	if err := client.Send(req, &result); err != nil {
		if jsonOutput {
			return outputJSONError("update request failed", err)
		}
		return err
	}

	if jsonOutput {
		return outputJSON(result)
	}

	if result.AtLatestVersion {
		fmt.Printf("%s is already at the latest version.\n", updateFlags.component)
		return nil
	}
	if result.Interrupted != nil {
		fmt.Println("Note: a previous update attempt was interrupted; it has been re-applied cleanly.")
	}
	fmt.Printf("%s updated to %s.\n", updateFlags.component, result.New.Content.Digest)
	return nil
}
