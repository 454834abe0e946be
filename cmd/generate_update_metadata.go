package cmd

import (
	"fmt"

	"github.com/bootupd/bootupd-go/pkg/component"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var generateUpdateMetadataFlags struct {
	component string
	sysroot   string
}

// generateUpdateMetadataCmd runs at image-compose time to stage an update:
// it describes the component's content as built, for later comparison
// against what's installed on a deployed system.
var generateUpdateMetadataCmd = &cobra.Command{
	Use:    "generate-update-metadata",
	Short:  "Stage update metadata for a boot component (build-time only)",
	Hidden: true,
	RunE:   runGenerateUpdateMetadata,
}

func init() {
	rootCmd.AddCommand(generateUpdateMetadataCmd)
	generateUpdateMetadataCmd.Flags().StringVar(&generateUpdateMetadataFlags.component, "component", "", "component to stage (EFI or BIOS)")
	generateUpdateMetadataCmd.Flags().StringVar(&generateUpdateMetadataFlags.sysroot, "sysroot", "/", "sysroot to read the component's content from")
	_ = generateUpdateMetadataCmd.MarkFlagRequired("component")
}

func runGenerateUpdateMetadata(cmd *cobra.Command, args []string) error {
	jsonOutput := viper.GetBool("json")

	comp, err := resolveComponent(generateUpdateMetadataFlags.component)
	if err != nil {
		if jsonOutput {
			return outputJSONError("unknown component", err)
		}
		return err
	}

	meta, err := comp.GenerateUpdateMetadata(cmd.Context(), generateUpdateMetadataFlags.sysroot)
	if err != nil {
		if jsonOutput {
			return outputJSONError("generating update metadata failed", err)
		}
		return err
	}

	if err := component.WriteUpdateMetadata(generateUpdateMetadataFlags.sysroot, comp, meta); err != nil {
		if jsonOutput {
			return outputJSONError("staging update metadata failed", err)
		}
		return err
	}

	if jsonOutput {
		return outputJSON(meta)
	}
	fmt.Printf("staged %s update metadata: %s\n", comp.Name(), meta.Content.Digest)
	return nil
}
