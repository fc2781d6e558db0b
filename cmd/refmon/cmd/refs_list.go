package cmd

import (
	"strings"

	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var refsListCmd = &cobra.Command{
	Use:   "list [<prefix>]",
	Short: "List refs",
	Long: `List the refs of the repository, sorted by name, optionally restricted to names starting with a prefix.

This is analogous to the "git show-ref" command. Symbolic refs are listed with their target ref.`,
	Example: `% refmon refs list refs/heads/
4b825dc642cb6eb9a060e54bf8d69288fbee4904 refs/heads/main
ref: refs/heads/main refs/remotes/origin/HEAD`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var prefix string
		if len(args) > 0 {
			prefix = args[0]
		}
		repo := openRepository()
		if repo == nil {
			return
		}

		var opts []refs.EnumerateOption
		if refmonFlags.list.skipMalformed {
			opts = append(opts, refs.SkipMalformed(func(name string, err error) {
				logger.Warn("skipping malformed ref", zap.String("ref", name), zap.Error(err))
			}))
		}
		ctx := cmd.Context()
		err := repo.Read(ctx, func(store refs.Store) (err error) {
			it, err := store.Enumerate(ctx, opts...)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := it.Close(); err == nil {
					err = cerr
				}
			}()
			for it.Next() {
				rec := it.Record()
				if !strings.HasPrefix(rec.Name, prefix) {
					continue
				}
				infoLogger.Printf("%s %s", rec.Target, rec.Name)
			}
			return it.Err()
		})
		if err != nil {
			fatalWithCode("cannot list refs", err)
			return
		}
	},
}

func init() {
	addSkipMalformedFlag(refsListCmd)
	refsCmd.AddCommand(refsListCmd)
}
