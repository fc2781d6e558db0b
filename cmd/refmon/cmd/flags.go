// Copyright © 2018 One Concern

package cmd

import (
	"fmt"

	units "github.com/docker/go-units"
	"github.com/oneconcern/refmon/pkg/dlogger"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	outputText = "text"
	outputJSON = "json"
)

type flagsT struct {
	root struct {
		repository string
		logLevel   string
	}
	init struct {
		format string
	}
	migrate struct {
		format string
		dryRun bool
	}
	verify struct {
		strict   bool
		verbose  bool
		output   string
		skiplist string
	}
	reftable struct {
		blockSize byteSize
	}
	update struct {
		delete   bool
		symbolic bool
	}
	list struct {
		skipMalformed bool
	}
	version struct {
		output string
	}
}

var refmonFlags = flagsT{}

func addRepositoryFlag(cmd *cobra.Command) string {
	repository := "repository"
	cmd.PersistentFlags().StringVarP(&refmonFlags.root.repository, repository, "C", "",
		"The repository directory. Defaults to the configured repository, or the current directory")
	return repository
}

func addLogLevelFlag(cmd *cobra.Command) string {
	logLevel := "loglevel"
	cmd.PersistentFlags().StringVar(&refmonFlags.root.logLevel, logLevel, "",
		fmt.Sprintf("The logging level: %s, %s, %s or %s", dlogger.LogLevelDebug, dlogger.LogLevelInfo, dlogger.LogLevelWarn, dlogger.LogLevelNone))
	return logLevel
}

func addInitFormatFlag(cmd *cobra.Command) string {
	refFormat := "ref-format"
	cmd.Flags().StringVar(&refmonFlags.init.format, refFormat, model.FormatFiles.String(),
		"The ref storage format of the new repository: files or reftable")
	return refFormat
}

func addMigrateFormatFlag(cmd *cobra.Command) string {
	refFormat := "ref-format"
	cmd.Flags().StringVar(&refmonFlags.migrate.format, refFormat, "",
		"The ref storage format to migrate to: files or reftable")
	return refFormat
}

func addDryRunFlag(cmd *cobra.Command) string {
	dryRun := "dry-run"
	cmd.Flags().BoolVar(&refmonFlags.migrate.dryRun, dryRun, false,
		"Build and verify the new ref store, then discard it. The repository is left untouched")
	return dryRun
}

func addStrictFlag(cmd *cobra.Command) string {
	strict := "strict"
	cmd.Flags().BoolVar(&refmonFlags.verify.strict, strict, false, "Report warnings as errors")
	return strict
}

func addVerboseFlag(cmd *cobra.Command) string {
	verbose := "verbose"
	cmd.Flags().BoolVar(&refmonFlags.verify.verbose, verbose, false, "Report informational findings too")
	return verbose
}

func addOutputFlag(cmd *cobra.Command) string {
	output := "output"
	cmd.Flags().StringVarP(&refmonFlags.verify.output, output, "o", outputText, "The output format: text or json")
	return output
}

func addSkiplistFlag(cmd *cobra.Command) string {
	skiplist := "skiplist"
	cmd.Flags().StringVar(&refmonFlags.verify.skiplist, skiplist, "",
		"A file listing object ids exempt from missing object checks. Overrides fsck.skiplist in the config")
	return skiplist
}

func addDeleteFlag(cmd *cobra.Command) string {
	del := "delete"
	cmd.Flags().BoolVarP(&refmonFlags.update.delete, del, "d", false, "Delete the ref")
	return del
}

func addSymbolicFlag(cmd *cobra.Command) string {
	symbolic := "symbolic"
	cmd.Flags().BoolVar(&refmonFlags.update.symbolic, symbolic, false, "The target is another ref")
	return symbolic
}

func addSkipMalformedFlag(cmd *cobra.Command) string {
	skip := "skip-malformed"
	cmd.Flags().BoolVar(&refmonFlags.list.skipMalformed, skip, false, "Skip malformed refs instead of failing")
	return skip
}

// byteSize is a flag value accepting human readable sizes, such as 4KiB
type byteSize uint64

var _ pflag.Value = new(byteSize)

func (b byteSize) String() string {
	if b == 0 {
		return ""
	}
	return units.BytesSize(float64(b))
}

func (b *byteSize) Set(value string) error {
	n, err := units.RAMInBytes(value)
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("size must be positive, got %q", value)
	}
	*b = byteSize(n)
	return nil
}

func (byteSize) Type() string {
	return "size"
}

func addBlockSizeFlag(cmd *cobra.Command) string {
	blockSize := "block-size"
	cmd.Flags().Var(&refmonFlags.reftable.blockSize, blockSize,
		"The block size of new reftable tables, e.g. 4KiB. Overrides reftable.blocksize in the config")
	return blockSize
}

func requireFlags(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		err := cmd.MarkFlagRequired(flag)
		if err != nil {
			err = cmd.MarkPersistentFlagRequired(flag)
		}
		if err != nil {
			wrapFatalln(fmt.Sprintf("error attempting to mark the required flag %q", flag), err)
			return
		}
	}
}
