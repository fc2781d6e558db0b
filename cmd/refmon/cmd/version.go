package cmd

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// Build information, set with -ldflags "-X github.com/oneconcern/refmon/cmd/refmon/cmd.Version=..."
var (
	Version   string
	BuildDate string
	GitCommit string
	GitState  string
)

// VersionInfo describes the refmon binary
type VersionInfo struct {
	Version   string `json:"version,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
	GitState  string `json:"gitState,omitempty"`
}

// NewVersionInfo collects the build information. Unreleased builds are "dev".
func NewVersionInfo() VersionInfo {
	ver := VersionInfo{
		Version:   "dev",
		BuildDate: BuildDate,
		GitCommit: GitCommit,
	}
	if Version != "" {
		ver.Version = Version
		ver.GitState = "clean"
	}
	if GitState != "" {
		ver.GitState = GitState
	}
	return ver
}

func (v VersionInfo) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Version: %s\n", v.Version)
	fmt.Fprintf(&buf, "Build date: %s\n", v.BuildDate)
	fmt.Fprintf(&buf, "Commit: %s\n", v.GitCommit)
	fmt.Fprintf(&buf, "Working tree: %s", v.GitState)
	return buf.String()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints the version of refmon",
	Long: `Prints the version of refmon. It includes the following components:
	* Semver (output of git describe --tags)
	* Build Date (date at which the binary was built)
	* Git Commit (the git commit hash this binary was built from
	* Git State (when dirty there were uncommitted changes during the build)
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info := NewVersionInfo()
		switch refmonFlags.version.output {
		case "", outputText:
			infoLogger.Println(info.String())
		case outputJSON:
			buf, err := jsoniter.Marshal(info)
			if err != nil {
				wrapFatalln("cannot render version", err)
				return
			}
			infoLogger.Println(string(buf))
		default:
			wrapFatalWithCodef(int(unix.EINVAL), "unknown output format %q", refmonFlags.version.output)
		}
	},
}

func init() {
	versionCmd.Flags().StringVarP(&refmonFlags.version.output, "output", "o", outputText, "The output format: text or json")
	rootCmd.AddCommand(versionCmd)
}
