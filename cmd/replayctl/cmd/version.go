package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/austindbirch/logreplay/internal/config"
)

var (
	// These will be set by ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type versionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
	UserAgent string `json:"userAgent"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// userAgent is the User-Agent replayed requests carry.
func userAgent(appName string) string { return appName + "/" + Version }

func currentVersion() versionInfo {
	return versionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		UserAgent: userAgent(config.Defaults().AppName),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long: `Print the replayctl build, along with the User-Agent header that
"replayctl run" sends with every replayed request unless REPLAY_APP_NAME
changes it.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		v := currentVersion()
		if outputJSON {
			printOutput(out, v)
			return
		}
		fmt.Fprintf(out, "replayctl version %s\n", v.Version)
		fmt.Fprintf(out, "Git commit: %s\n", v.GitCommit)
		fmt.Fprintf(out, "Built: %s\n", v.BuildTime)
		fmt.Fprintf(out, "User-Agent: %s\n", v.UserAgent)
		fmt.Fprintf(out, "Go version: %s (%s)\n", v.GoVersion, v.Platform)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
