package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/runger/prizm/internal/suggestions/db"
)

// Set with -ldflags "-X github.com/runger/prizm/internal/cmd.Version=..."
// for release builds. Otherwise they are filled from the module build info.
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

var versionJSON bool

type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Built     string `json:"built,omitempty"`
	GoVersion string `json:"go"`
	Schema    int    `json:"schema_version"`
}

func currentBuild() buildInfo {
	b := buildInfo{
		Version:   Version,
		Commit:    GitCommit,
		Built:     BuildDate,
		GoVersion: runtime.Version(),
		Schema:    db.SchemaVersion,
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && b.Commit == "":
			b.Commit = s.Value
		case s.Key == "vcs.time" && b.Built == "":
			b.Built = s.Value
		}
	}
	return b
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print version information",
	GroupID: groupSetup,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b := currentBuild()
		out := cmd.OutOrStdout()
		if versionJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(b)
		}
		fmt.Fprintf(out, "prizm %s\n", b.Version)
		if b.Commit != "" {
			fmt.Fprintf(out, "  commit: %s\n", b.Commit)
		}
		if b.Built != "" {
			fmt.Fprintf(out, "  built:  %s\n", b.Built)
		}
		fmt.Fprintf(out, "  go:     %s\n", b.GoVersion)
		fmt.Fprintf(out, "  schema: v%d\n", b.Schema)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print build information as JSON")
}
