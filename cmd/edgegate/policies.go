package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invitegen/edgegate/internal/policy"
)

var policiesFile string

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Print the effective policy table as YAML",
	Long: `Print the rate limit policies and exemptions the gateway would use.

Without --file the built-in defaults are printed; the output is a valid
policy file and can be used as a starting point for POLICY_FILE.`,
	Args: cobra.NoArgs,
	RunE: runPolicies,
}

func init() {
	rootCmd.AddCommand(policiesCmd)
	policiesCmd.Flags().StringVarP(&policiesFile, "file", "f", "", "policy file to validate and print")
}

func runPolicies(cmd *cobra.Command, args []string) error {
	set := policy.Defaults()
	if policiesFile != "" {
		loaded, err := policy.LoadFile(policiesFile)
		if err != nil {
			return err
		}
		set = loaded
	}

	out, err := policy.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode policies: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
