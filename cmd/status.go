package cmd

import (
	"fmt"
	"strings"

	"github.com/bootupd/bootupd-go/pkg/filetree"
	"github.com/bootupd/bootupd-go/pkg/ipc"
	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"stat", "info"},
	Short:   "Show the status of every managed boot component",
	Long: `Display the installed, adoptable, and updatable state of every boot
component bootupd tracks on this architecture (EFI, BIOS, or both).

With --json, output the full machine-readable status payload instead of
the human-readable summary.`,
	RunE: runStatus,
}

var statusFlags struct {
	printIfAvailable bool
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusFlags.printIfAvailable, "print-if-available", false,
		"print \"Updates available: <name> ...\" and exit; nothing is printed if there are none")
}

var (
	styleHeading = lipgloss.NewStyle().Bold(true)
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleGood    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleSubtle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput := viper.GetBool("json")

	client, err := connectDaemon()
	if err != nil {
		if jsonOutput {
			return outputJSONError("failed to connect to bootupd", err)
		}
		return err
	}
	defer client.Close()

	var status model.Status
	if err := client.Send(ipc.ClientRequest{Kind: ipc.RequestStatus}, &status); err != nil {
		if jsonOutput {
			return outputJSONError("status request failed", err)
		}
		return err
	}

	if statusFlags.printIfAvailable {
		printStatusAvailable(&status)
		return nil
	}

	if jsonOutput {
		return outputJSON(status)
	}

	printStatus(&status, viper.GetBool("verbose"))
	return nil
}

// printStatusAvailable prints a single "Updates available: <name> ..."
// line naming every component with a staged update not yet installed, or
// nothing at all if none are available. Callers are expected to check for
// empty output rather than parse this line.
func printStatusAvailable(status *model.Status) {
	var names []string
	for _, c := range status.Components {
		if c.Installed != nil && c.Update != nil && c.Update.Update != nil && !c.Update.LatestInstalled {
			names = append(names, string(c.Type))
		}
	}
	if len(names) == 0 {
		return
	}
	fmt.Printf("Updates available: %s\n", strings.Join(names, " "))
}

func printStatus(status *model.Status, verbose bool) {
	if !status.SupportedArchitecture {
		fmt.Println(styleWarn.Render("This architecture has no managed boot components."))
		return
	}

	if len(status.Components) == 0 {
		fmt.Println("No boot components installed or adoptable.")
		return
	}

	for _, c := range status.Components {
		fmt.Println(styleHeading.Render(string(c.Type)))

		switch {
		case c.Installed != nil:
			fmt.Printf("  Installed digest: %s\n", c.Installed.Digest)
			fmt.Printf("  Installed at:     %s\n", c.Installed.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
			if c.Pending != nil {
				fmt.Println(styleWarn.Render(fmt.Sprintf("  WARNING: Previous update to %s was interrupted", c.Pending.Digest)))
			}
			switch {
			case c.Update == nil || c.Update.Update == nil:
				fmt.Println(styleGood.Render("  Up to date."))
			case c.Update.LatestInstalled:
				fmt.Println(styleWarn.Render(fmt.Sprintf("  Staged update %s is older than the installed content; it is not applied.", c.Update.Update.Content.Digest)))
			default:
				fmt.Printf("  Update available: %s (staged %s)\n",
					c.Update.Update.Content.Digest,
					c.Update.Update.ContentTimestamp.Format("2006-01-02T15:04:05Z07:00"))
				if verbose && c.Update.Update.Content.Filesystem != nil {
					fmt.Printf("  Staged payload size: %s\n", humanize.Bytes(uint64(filetree.TotalSize(c.Update.Update.Content.Filesystem))))
				}
			}
		case c.Adoptable != nil:
			confidence := "low confidence"
			if c.Adoptable.Confident {
				confidence = "high confidence"
			}
			fmt.Println(styleSubtle.Render(fmt.Sprintf("  Not installed; adoptable (%s).", confidence)))
			fmt.Printf("  Run `bootupctl adopt-and-update --component %s` to begin tracking it.\n", c.Type)
		}
		fmt.Println()
	}
}
