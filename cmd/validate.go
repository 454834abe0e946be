package cmd

import (
	"fmt"
	"sort"

	"github.com/bootupd/bootupd-go/pkg/ipc"
	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validateFlags struct {
	component string
	all       bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a component's installed content against disk",
	Long: `Check that a managed boot component's tracked content still matches what's
on disk.

Exactly one of --component or --all must be given.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateFlags.component, "component", "", "component to validate (EFI or BIOS)")
	validateCmd.Flags().BoolVar(&validateFlags.all, "all", false, "validate every installed component")
}

func runValidate(cmd *cobra.Command, args []string) error {
	jsonOutput := viper.GetBool("json")

	if validateFlags.all == (validateFlags.component != "") {
		return fmt.Errorf("exactly one of --component or --all must be given")
	}

	client, err := connectDaemon()
	if err != nil {
		if jsonOutput {
			return outputJSONError("failed to connect to bootupd", err)
		}
		return err
	}
	defer client.Close()

	if validateFlags.all {
		return runValidateAll(client, jsonOutput)
	}

	var result model.ValidationResult
	req := ipc.ClientRequest{Kind: ipc.RequestValidate, Component: validateFlags.component}
	if err := client.Send(req, &result); err != nil {
		if jsonOutput {
			return outputJSONError("validate request failed", err)
		}
		return err
	}

	if jsonOutput {
		return outputJSON(result)
	}

	printValidationResult(validateFlags.component, &result)
	if !result.Skipped && !result.OK() {
		return fmt.Errorf("%s failed validation", validateFlags.component)
	}
	return nil
}

func runValidateAll(client *ipc.Client, jsonOutput bool) error {
	var results map[string]model.ValidationResult
	req := ipc.ClientRequest{Kind: ipc.RequestValidateAll}
	if err := client.Send(req, &results); err != nil {
		if jsonOutput {
			return outputJSONError("validate request failed", err)
		}
		return err
	}

	if jsonOutput {
		return outputJSON(results)
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := false
	for _, name := range names {
		result := results[name]
		printValidationResult(name, &result)
		if !result.Skipped && !result.OK() {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("one or more components failed validation")
	}
	return nil
}

func printValidationResult(name string, result *model.ValidationResult) {
	if result.Skipped {
		fmt.Printf("%s: validation skipped for this component.\n", name)
		return
	}
	if result.OK() {
		fmt.Printf("%s: content matches disk.\n", name)
		return
	}
	fmt.Printf("%s: validation FAILED:\n", name)
	for _, e := range result.Errors {
		fmt.Printf("  - %s\n", e)
	}
}
