package cmd

import (
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var refsUpdateCmd = &cobra.Command{
	Use:   "update <ref> [<target>]",
	Short: "Create, update or delete a ref",
	Long: `Point a ref to an object id or, with --symbolic, to another ref. With --delete, remove the ref.

This is analogous to the "git update-ref" and "git symbolic-ref" commands.`,
	Example: `% refmon refs update refs/heads/main 4b825dc642cb6eb9a060e54bf8d69288fbee4904
% refmon refs update --symbolic HEAD refs/heads/main
% refmon refs update -d refs/heads/topic`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		var target model.Target
		switch {
		case refmonFlags.update.delete && len(args) != 1:
			wrapFatalWithCodef(int(unix.EINVAL), "no target expected when deleting %s", name)
			return
		case refmonFlags.update.delete:
		case len(args) != 2:
			wrapFatalWithCodef(int(unix.EINVAL), "missing target for %s", name)
			return
		case refmonFlags.update.symbolic:
			target = model.Symbolic(args[1])
		default:
			oid, err := model.ParseOID(args[1])
			if err != nil {
				wrapFatalWithCodef(int(unix.EINVAL), "invalid target: %v", err)
				return
			}
			target = model.Direct(oid)
		}

		repo := openRepository()
		if repo == nil {
			return
		}
		err := repo.Update(cmd.Context(), func(tx refs.Transaction) error {
			if refmonFlags.update.delete {
				return tx.Delete(name)
			}
			return tx.Update(name, target)
		})
		if err != nil {
			fatalWithCode("cannot update "+name, err)
			return
		}
	},
}

func init() {
	addDeleteFlag(refsUpdateCmd)
	addSymbolicFlag(refsUpdateCmd)
	refsCmd.AddCommand(refsUpdateCmd)
}
