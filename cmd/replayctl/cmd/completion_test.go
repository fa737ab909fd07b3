package cmd

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func completionTree() *cobra.Command {
	root := &cobra.Command{Use: "replayctl"}
	run := &cobra.Command{Use: "run", Run: func(*cobra.Command, []string) {}}
	for _, name := range []string{"log-level", "scheme", "input", "output", "sqlite", "jwt-private-key"} {
		run.Flags().String(name, "", "")
	}
	conv := &cobra.Command{Use: "convert", Run: func(*cobra.Command, []string) {}}
	conv.Flags().String("input", "", "")
	conv.Flags().String("output", "", "")
	root.AddCommand(run, conv)
	return root
}

func TestRegisterFlagCompletions(t *testing.T) {
	root := completionTree()
	if err := registerFlagCompletions(root); err != nil {
		t.Fatalf("registerFlagCompletions() error = %v", err)
	}
	run, _, err := root.Find([]string{"run"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		flag string
		want []string
	}{
		{flag: "log-level", want: []string{"debug", "info", "warn", "error"}},
		{flag: "scheme", want: []string{"http", "https"}},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			fn, ok := run.GetFlagCompletionFunc(tt.flag)
			if !ok {
				t.Fatalf("no completion registered for --%s", tt.flag)
			}
			got, directive := fn(run, nil, "")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("completions = %v, want %v", got, tt.want)
			}
			if directive != cobra.ShellCompDirectiveNoFileComp {
				t.Errorf("directive = %v, want NoFileComp", directive)
			}
		})
	}

	exts := run.Flags().Lookup("sqlite").Annotations[cobra.BashCompFilenameExt]
	if !reflect.DeepEqual(exts, []string{"db", "sqlite"}) {
		t.Errorf("sqlite extensions = %v", exts)
	}
}

func TestRegisterFlagCompletions_MissingFlag(t *testing.T) {
	root := &cobra.Command{Use: "replayctl"}
	root.AddCommand(&cobra.Command{Use: "run"})
	if err := registerFlagCompletions(root); err == nil {
		t.Error("expected error for a command lacking the flags")
	}
}

func TestCompletionCmd(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			var buf bytes.Buffer
			completionCmd.SetOut(&buf)
			t.Cleanup(func() { completionCmd.SetOut(nil) })

			if err := completionCmd.RunE(completionCmd, []string{shell}); err != nil {
				t.Fatalf("RunE(%s) error = %v", shell, err)
			}
			if !strings.Contains(buf.String(), "replayctl") {
				t.Errorf("%s script does not mention replayctl", shell)
			}
		})
	}
}
