package cmd

import (
	"io"
	"os"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/refmon/pkg/fsck"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/objects"
	"github.com/oneconcern/refmon/pkg/repository"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

var severityColors = map[model.Severity]*color.Color{
	model.SeverityError:   color.New(color.FgRed, color.Bold),
	model.SeverityWarning: color.New(color.FgYellow),
	model.SeverityInfo:    color.New(color.FgCyan),
}

func printFinding(f model.Finding) {
	severity := f.Severity.String()
	if c, ok := severityColors[f.Severity]; ok {
		severity = c.Sprint(severity)
	}
	infoLogger.Printf("%s: %s: %s: %s", severity, f.Location(), f.Kind, f.Detail)
}

var refsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the integrity of the refs",
	Long: `Check the integrity of the ref store: its internal structures, the names and targets of refs,
and the chains of symbolic refs.

Findings are reported as "<severity>: <ref>: <check>: <detail>". The default severity of a check
may be changed in the configuration (fsck.severity). The command fails when an error is found.

This is analogous to the "git refs verify" command.`,
	Example: `% refmon refs verify --strict
warning: refs/heads/topic: danglingTarget: object 8a3b... is missing`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		output := refmonFlags.verify.output
		if output == "" {
			output = outputText
		}
		if output != outputText && output != outputJSON {
			wrapFatalWithCodef(int(unix.EINVAL), "unknown output format %q", output)
			return
		}
		severities, err := fsck.ParseSeverities(config.Fsck.Severity)
		if err != nil {
			fatalWithCode("invalid fsck.severity configuration", err)
			return
		}
		repo := openRepository()
		if repo == nil {
			return
		}

		opts := []fsck.Option{
			fsck.Strict(refmonFlags.verify.strict),
			fsck.Verbose(refmonFlags.verify.verbose),
			fsck.WithSeverities(severities),
			fsck.WithMaxSymrefDepth(config.Refs.MaxSymrefDepth),
			fsck.WithLogger(logger.Named("fsck")),
		}
		if output == outputText {
			opts = append(opts, fsck.OnFinding(printFinding))
		}
		if refmonFlags.verify.skiplist != "" {
			skiplist, err := readSkiplist(refmonFlags.verify.skiplist)
			if err != nil {
				fatalWithCode("cannot read skiplist", err)
				return
			}
			opts = append(opts, fsck.WithSkiplist(skiplist))
		}
		db, closeDB, err := objectDatabase(repo)
		if err != nil {
			fatalWithCode("cannot open the object database", err)
			return
		}
		if db != nil {
			opts = append(opts, fsck.WithObjects(db))
		}

		report, err := fsck.VerifyRepository(cmd.Context(), repo, opts...)
		err = multierr.Append(err, closeDB())
		if err != nil {
			fatalWithCode("verification aborted", err)
			return
		}

		if output == outputJSON {
			buf, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(report, "", "  ")
			if err != nil {
				wrapFatalln("cannot render report", err)
				return
			}
			infoLogger.Println(string(buf))
		}
		if report.Failed() {
			wrapFatalWithCodef(1, "verification failed: %d error(s), %d warning(s) in %d refs", report.Errors, report.Warnings, report.Refs)
			return
		}
	},
}

func readSkiplist(path string) (model.Skiplist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return model.ParseSkiplist(f)
}

// objectDatabase gathers the configured object databases, if any
func objectDatabase(repo *repository.Repository) (objects.Database, func() error, error) {
	var (
		dbs     objects.Any
		closers []io.Closer
	)
	closeAll := func() error {
		var err error
		for _, c := range closers {
			err = multierr.Append(err, c.Close())
		}
		return err
	}

	if dir := config.Objects.Dir; dir != "" {
		ok, err := afero.DirExists(repo.Fs(), dir)
		if err != nil {
			return nil, closeAll, err
		}
		if ok {
			dbs = append(dbs, objects.NewLooseDir(repo.Fs(), dir))
		}
	}
	if index := config.Objects.Index; index != "" {
		idx, err := objects.OpenBadgerIndex(index, objects.ReadOnly(), objects.WithBadgerLogger(logger.Named("objects")))
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, idx)
		dbs = append(dbs, idx)
	}
	if len(dbs) == 0 {
		return nil, closeAll, nil
	}
	return dbs, closeAll, nil
}

func init() {
	addStrictFlag(refsVerifyCmd)
	addVerboseFlag(refsVerifyCmd)
	addOutputFlag(refsVerifyCmd)
	addSkiplistFlag(refsVerifyCmd)

	refsCmd.AddCommand(refsVerifyCmd)
}
