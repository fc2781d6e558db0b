package cmd

import (
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/spf13/cobra"
)

var refsResolveCmd = &cobra.Command{
	Use:   "resolve <ref>",
	Short: "Print the object id a ref points to",
	Long: `Follow symbolic refs and print the object id finally reached.

The number of symbolic refs followed is bounded by refs.maxsymrefdepth in the configuration.`,
	Example: `% refmon refs resolve HEAD
4b825dc642cb6eb9a060e54bf8d69288fbee4904`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepository()
		if repo == nil {
			return
		}
		ctx := cmd.Context()
		var oid model.OID
		err := repo.Read(ctx, func(store refs.Store) (err error) {
			oid, err = store.ResolveSymbolic(ctx, args[0], config.Refs.MaxSymrefDepth)
			return err
		})
		if err != nil {
			fatalWithCode("cannot resolve "+args[0], err)
			return
		}
		infoLogger.Println(oid.String())
	},
}

func init() {
	refsCmd.AddCommand(refsResolveCmd)
}
