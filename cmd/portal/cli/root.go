// Package cli holds the cobra commands of the portal binary.
package cli

import (
	"io"

	"github.com/spf13/cobra"
)

// NewRootCommand assembles the portal command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "portal",
		Short:         "Barangay portal server and operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newJobsCommand())
	cmd.AddCommand(newRRuleCommand())
	return cmd
}
