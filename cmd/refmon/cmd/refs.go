package cmd

import (
	"github.com/spf13/cobra"
)

// refsCmd represents the ref related commands
var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Commands to manage refs",
	Long: `Commands to manage the refs of a repository and their storage.

This is analogous to the "git refs" command.`,
}

func init() {
	rootCmd.AddCommand(refsCmd)
}
