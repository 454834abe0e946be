package cmd

import (
	"fmt"

	"github.com/bootupd/bootupd-go/pkg/ipc"
	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var adoptFlags struct {
	component string
	yes       bool
}

var adoptCmd = &cobra.Command{
	Use:     "adopt-and-update",
	Aliases: []string{"adopt"},
	Short:   "Start tracking an un-managed component and update it in one step",
	Long: `Adopt a boot component that exists on disk but isn't yet tracked in saved
state, and immediately apply its staged update. This is how bootupd takes
over management of a component installed by an older, non-bootupd image
build.`,
	RunE: runAdopt,
}

func init() {
	rootCmd.AddCommand(adoptCmd)
	adoptCmd.Flags().StringVar(&adoptFlags.component, "component", "", "component to adopt (EFI or BIOS)")
	adoptCmd.Flags().BoolVarP(&adoptFlags.yes, "yes", "y", false, "skip the confirmation prompt")
	_ = adoptCmd.MarkFlagRequired("component")
}

func runAdopt(cmd *cobra.Command, args []string) error {
	jsonOutput := viper.GetBool("json")

	if !adoptFlags.yes && !jsonOutput {
		var confirmed bool
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("Adopt and update %s?", adoptFlags.component)).
			Description("This will start tracking the component's current on-disk content and\nimmediately overwrite it with the staged update.").
			Affirmative("Adopt").
			Negative("Cancel").
			Value(&confirmed)
		if err := huh.NewForm(huh.NewGroup(prompt)).Run(); err != nil {
			return fmt.Errorf("prompt failed: %w", err)
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	client, err := connectDaemon()
	if err != nil {
		if jsonOutput {
			return outputJSONError("failed to connect to bootupd", err)
		}
		return err
	}
	defer client.Close()

	var result model.ContentMetadata
	req := ipc.ClientRequest{Kind: ipc.RequestAdoptAndUpdate, Component: adoptFlags.component}
	if err := client.Send(req, &result); err != nil {
		if jsonOutput {
			return outputJSONError("adopt-and-update request failed", err)
		}
		return err
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("%s adopted and updated to %s.\n", adoptFlags.component, result.Content.Digest)
	return nil
}
