package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"golang.org/x/sys/unix"
)

var (
	// globals used to patch over calls to os.Exit() during test

	logFatalln = log.Fatalln
	logFatalf  = log.Fatalf
	osExit     = os.Exit

	// infoLogger wraps informative messages to os.Stdout without cluttering expected output in tests.
	// To be used instead on fmt.Printf(os.Stdout, ...)
	infoLogger = log.New(os.Stdout, "", 0)
)

func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(msg)
	} else {
		logFatalf("%v", fmt.Errorf(msg+": %w", err))
	}
}

func wrapFatalWithCodef(code int, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	osExit(code)
}

// exitCode maps an error to the exit status of the command
func exitCode(err error) int {
	switch {
	case errors.Is(err, status.ErrInvalidArgument):
		return int(unix.EINVAL)
	case errors.Is(err, status.ErrLockBusy):
		return int(unix.EBUSY)
	default:
		return 1
	}
}

// fatalWithCode reports a failed command with an exit status telling the kind of failure
func fatalWithCode(msg string, err error) {
	wrapFatalWithCodef(exitCode(err), "%s: %v", msg, err)
}
