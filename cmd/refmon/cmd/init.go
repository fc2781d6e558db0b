package cmd

import (
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/repository"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a repository",
	Long: `Create a repository with an empty ref store.

This is analogous to the "git init --ref-format" command.`,
	Example: `% refmon init -C my-repo --ref-format reftable`,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		format, err := model.ParseFormat(refmonFlags.init.format)
		if err != nil {
			wrapFatalWithCodef(int(unix.EINVAL), "unknown ref storage format '%s'", refmonFlags.init.format)
			return
		}
		opts, err := config.repositoryOptions()
		if err != nil {
			fatalWithCode("invalid configuration", err)
			return
		}
		repo, err := repository.Init(cmd.Context(), refmonFlags.root.repository, format, opts...)
		if err != nil {
			fatalWithCode("cannot create repository", err)
			return
		}
		infoLogger.Printf("initialized empty %s ref store in %s", repo.Format(), repo.Dir())
	},
}

func init() {
	addInitFormatFlag(initCmd)
	addBlockSizeFlag(initCmd)
	rootCmd.AddCommand(initCmd)
}
