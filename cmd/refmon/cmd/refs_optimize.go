package cmd

import (
	"github.com/spf13/cobra"
)

var refsOptimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Reorganize the ref store",
	Long: `Reorganize the ref store without changing the refs: loose refs are packed ("files"),
tables are compacted into one ("reftable").

This is analogous to the "git pack-refs" command.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepository()
		if repo == nil {
			return
		}
		if err := repo.Optimize(cmd.Context()); err != nil {
			fatalWithCode("cannot optimize the ref store", err)
			return
		}
	},
}

func init() {
	refsCmd.AddCommand(refsOptimizeCmd)
}
