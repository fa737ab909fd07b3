package cmd

import (
	"github.com/spf13/cobra"
)

// completionCmd represents the completion command
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `Generate a shell completion script for replayctl. Besides subcommands and
flag names, it completes the values of enumerated flags such as
"run --log-level" and "run --scheme", and file names for the input, key and
SQLite flags.

  $ source <(replayctl completion bash)
  $ replayctl completion zsh > "${fpath[1]}/_replayctl"
  $ replayctl completion fish | source
  PS> replayctl completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(out, true)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

// flagValues lists the fixed choices of enumerated flags, per command.
var flagValues = map[string]map[string][]string{
	"run": {
		"log-level": {"debug", "info", "warn", "error"},
		"scheme":    {"http", "https"},
	},
}

// fileFlags lists flags that take a path, with the extensions to offer.
var fileFlags = map[string]map[string][]string{
	"run": {
		"input":           nil,
		"output":          nil,
		"sqlite":          {"db", "sqlite"},
		"jwt-private-key": {"pem", "key"},
	},
	"convert": {
		"input":  nil,
		"output": nil,
	},
}

// registerFlagCompletions attaches value completion to the flags above. It
// runs after every command's init has defined its flags.
func registerFlagCompletions(root *cobra.Command) error {
	for _, c := range root.Commands() {
		for name, values := range flagValues[c.Name()] {
			if err := c.RegisterFlagCompletionFunc(name, cobra.FixedCompletions(values, cobra.ShellCompDirectiveNoFileComp)); err != nil {
				return err
			}
		}
		for name, exts := range fileFlags[c.Name()] {
			if err := c.MarkFlagFilename(name, exts...); err != nil {
				return err
			}
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
