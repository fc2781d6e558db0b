// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/oneconcern/refmon/pkg/dlogger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "refmon",
	Short: "refmon manages the ref store of a repository",
	Long: `refmon manages the refs of a repository: the names (branches, tags, HEAD...) pointing to objects.

Refs are kept in a pluggable ref store, either "files" (one file per ref plus a packed-refs table)
or "reftable" (a stack of immutable, block-indexed tables).

refmon converts a repository from one format to the other and verifies the integrity of its refs.
`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		l, err := dlogger.GetLogger(refmonFlags.root.logLevel, dlogger.WithConsole())
		if err != nil {
			wrapFatalWithCodef(int(unix.EINVAL), "invalid log level %q: %v", refmonFlags.root.logLevel, err)
			return
		}
		logger = l
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

var logger = zap.NewNop()

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)

	addRepositoryFlag(rootCmd)
	addLogLevelFlag(rootCmd)
}
