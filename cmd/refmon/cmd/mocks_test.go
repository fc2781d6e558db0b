package cmd

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type ExitMocks struct {
	mock.Mock
	exitStatuses []int
}

func (m *ExitMocks) Fatalf(format string, v ...interface{}) {
	fmt.Printf(format+"\n", v...)
	m.exitStatuses = append(m.exitStatuses, 1)
}

func (m *ExitMocks) Fatalln(v ...interface{}) {
	fmt.Println(v...)
	m.exitStatuses = append(m.exitStatuses, 1)
}

func (m *ExitMocks) Exit(code int) {
	m.exitStatuses = append(m.exitStatuses, code)
}

func (m *ExitMocks) fatalCalls() int {
	return len(m.exitStatuses)
}

func (m *ExitMocks) lastStatus() int {
	if len(m.exitStatuses) == 0 {
		return 0
	}
	return m.exitStatuses[len(m.exitStatuses)-1]
}

func NewExitMocks() *ExitMocks {
	return &ExitMocks{
		exitStatuses: make([]int, 0),
	}
}

func MakeFatalfMock(m *ExitMocks) func(string, ...interface{}) {
	return func(format string, v ...interface{}) {
		m.Fatalf(format, v...)
	}
}

func MakeFatallnMock(m *ExitMocks) func(...interface{}) {
	return func(v ...interface{}) {
		m.Fatalln(v...)
	}
}

func MakeExitMock(m *ExitMocks) func(int) {
	return func(code int) {
		m.Exit(code)
	}
}

var exitMocks *ExitMocks

func setupExitMocks() {
	exitMocks = NewExitMocks()
	logFatalf = MakeFatalfMock(exitMocks)
	logFatalln = MakeFatallnMock(exitMocks)
	osExit = MakeExitMock(exitMocks)
}

// runCmd executes a command line and returns what it printed.
// When expectedStatus is not zero, the command must exit with it.
func runCmd(t *testing.T, cmd []string, intentMsg string, expectedStatus int) string {
	t.Helper()
	fatalCallsBefore := exitMocks.fatalCalls()

	var out bytes.Buffer
	infoLogger = log.New(&out, "", 0)
	refmonFlags = flagsT{}

	rootCmd.SetArgs(cmd)
	require.NoError(t, rootCmd.Execute(), "error executing '"+strings.Join(cmd, " ")+"' : "+intentMsg)
	if expectedStatus != 0 {
		require.Equal(t, fatalCallsBefore+1, exitMocks.fatalCalls(),
			"ran '"+strings.Join(cmd, " ")+"' expecting error and didn't see one in mocks : "+intentMsg)
		require.Equal(t, expectedStatus, exitMocks.lastStatus(),
			"unexpected exit status for '"+strings.Join(cmd, " ")+"' : "+intentMsg)
	} else {
		require.Equal(t, fatalCallsBefore, exitMocks.fatalCalls(),
			"unexpected error in mocks on '"+strings.Join(cmd, " ")+"' : "+intentMsg)
	}
	return out.String()
}
