package cmd

import (
	units "github.com/docker/go-units"
	"github.com/oneconcern/refmon/pkg/migrate"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var refsMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert the ref store to another format",
	Long: `Convert the ref store of a repository to another format.

The new store is built aside and verified against the current one before the repository
is switched to it. With --dry-run, the new store is verified then discarded.

This is analogous to the "git refs migrate" command.`,
	Example: `% refmon refs migrate --ref-format=reftable --dry-run`,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		target, err := model.ParseFormat(refmonFlags.migrate.format)
		if err != nil {
			wrapFatalWithCodef(int(unix.EINVAL), "unknown ref storage format '%s'", refmonFlags.migrate.format)
			return
		}
		repo := openRepository()
		if repo == nil {
			return
		}
		res, err := migrate.Migrate(cmd.Context(), repo, target,
			migrate.WithDryRun(refmonFlags.migrate.dryRun),
			migrate.WithLogger(logger.Named("migrate")),
		)
		if err != nil {
			fatalWithCode("migration failed", err)
			return
		}
		if res.DryRun {
			infoLogger.Printf("dry run: %d refs would be migrated from %s to %s", res.Refs, res.Source, res.Target)
			return
		}
		infoLogger.Printf("migrated %d refs from %s to %s in %s", res.Refs, res.Source, res.Target, units.HumanDuration(res.Duration))
	},
}

func init() {
	requireFlags(refsMigrateCmd,
		addMigrateFormatFlag(refsMigrateCmd),
	)
	addDryRunFlag(refsMigrateCmd)
	addBlockSizeFlag(refsMigrateCmd)

	refsCmd.AddCommand(refsMigrateCmd)
}
