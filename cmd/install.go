package cmd

import (
	"fmt"

	"github.com/bootupd/bootupd-go/pkg/bios"
	"github.com/bootupd/bootupd-go/pkg/component"
	"github.com/bootupd/bootupd-go/pkg/efi"
	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/bootupd/bootupd-go/pkg/state"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var installFlags struct {
	component      string
	srcRoot        string
	destRoot       string
	device         string
	updateFirmware bool
}

// installCmd runs at image-compose time, never on a running system: it has
// no daemon to talk to because the thing being built doesn't have saved
// state yet. It writes SavedState directly to destRoot.
var installCmd = &cobra.Command{
	Use:    "install",
	Short:  "Install a boot component into a new image root (build-time only)",
	Hidden: true,
	Long: `Install copies a boot component's payload from srcRoot into destRoot and
records its initial SavedState entry. This runs as part of composing a new
OS image, not on a running deployed system, which is why it writes state
directly instead of going through bootupd.`,
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringVar(&installFlags.component, "component", "", "component to install (EFI or BIOS)")
	installCmd.Flags().StringVar(&installFlags.srcRoot, "src-root", "", "source root containing the component's payload")
	installCmd.Flags().StringVar(&installFlags.destRoot, "dest-root", "", "destination root to install into")
	installCmd.Flags().StringVar(&installFlags.device, "device", "", "target block device (BIOS only)")
	installCmd.Flags().BoolVar(&installFlags.updateFirmware, "update-firmware", false, "register a UEFI boot entry (EFI only)")
	_ = installCmd.MarkFlagRequired("component")
	_ = installCmd.MarkFlagRequired("src-root")
	_ = installCmd.MarkFlagRequired("dest-root")
}

func runInstall(cmd *cobra.Command, args []string) error {
	jsonOutput := viper.GetBool("json")

	comp, err := resolveComponent(installFlags.component)
	if err != nil {
		if jsonOutput {
			return outputJSONError("unknown component", err)
		}
		return err
	}

	installed, err := comp.Install(cmd.Context(), installFlags.srcRoot, installFlags.destRoot, installFlags.device, installFlags.updateFirmware)
	if err != nil {
		if jsonOutput {
			return outputJSONError("install failed", err)
		}
		return err
	}

	bootRoot := installFlags.destRoot + "/boot"
	guard, err := state.AcquireWriteLock(bootRoot)
	if err != nil {
		return fmt.Errorf("acquiring write lock on new root: %w", err)
	}
	defer guard.Release()

	saved, err := state.Load(bootRoot)
	if err != nil {
		return err
	}
	if saved == nil {
		saved = model.NewSavedState()
	}
	saved.Components[model.ComponentType(comp.Name())] = model.SavedComponent{
		Digest:    installed.Digest,
		Timestamp: installed.Timestamp,
	}
	if err := guard.Update(saved); err != nil {
		return fmt.Errorf("recording installed state: %w", err)
	}

	if jsonOutput {
		return outputJSON(installed)
	}
	fmt.Printf("%s installed: %s\n", comp.Name(), installed.Digest)
	return nil
}

func resolveComponent(name string) (component.Component, error) {
	switch name {
	case "EFI":
		return efi.New(), nil
	case "BIOS":
		return bios.New(), nil
	default:
		return nil, fmt.Errorf("unknown component %q", name)
	}
}
