package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/logreplay/internal/config"
	"github.com/austindbirch/logreplay/internal/transport"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage replayctl configuration",
	Long:  `Manage replayctl configuration settings.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the effective configuration",
	Long:  `Display the configuration a run would use after flags, config file and REPLAY_* variables are applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			printOutput(out, redact(cfg))
			return nil
		}
		writeConfig(out, redact(cfg))
		if viper.ConfigFileUsed() != "" {
			fmt.Fprintf(out, "  Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintln(out, "  Config file: none (using defaults)")
		}
		return nil
	},
}

// configSetCmd represents the config set command
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  replayctl config set target-host staging.internal
  replayctl config set workers 64
  replayctl config set speed 2.5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if _, ok := runFlags[key]; !ok && key != "json" && key != "pretty" && key != "verbose" {
			return fmt.Errorf("invalid configuration key: %s. Valid keys are: %v", key, validKeys())
		}

		// Handle boolean values properly
		switch key {
		case "json", "pretty", "verbose", "latency-millis", "nsq-publish-failures":
			switch value {
			case "true", "1", "yes", "on":
				viper.Set(key, true)
			case "false", "0", "no", "off":
				viper.Set(key, false)
			default:
				return fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
			}
		case "target-request-timeout", "jwt-ttl":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration for %s: %w", key, err)
			}
			viper.Set(key, value)
		default:
			viper.Set(key, value)
		}

		configPath, err := configFilePath()
		if err != nil {
			return err
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", configPath)
		return nil
	},
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a configuration file holding the default replay settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := configFilePath()
		if err != nil {
			return err
		}

		// Check if config file already exists
		if _, err := os.Stat(configPath); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
			}
		}

		d := config.Defaults()
		defaults := map[string]any{
			"target-scheme":          d.Target.Scheme,
			"target-host":            d.Target.Host,
			"target-port":            d.Target.Port,
			"target-request-timeout": d.Target.RequestTimeout.String(),
			"speed":                  d.Playback.Speed,
			"queue-size":             d.Playback.QueueCapacity,
			"workers":                d.Playback.Workers,
			"max-rps":                d.Playback.MaxRPS,
			"log-level":              d.LogLevel,
		}
		for k, v := range defaults {
			viper.Set(k, v)
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration file created: %s\n", configPath)
		fmt.Fprintln(out, "Default settings:")
		keys := make([]string, 0, len(defaults))
		for k := range defaults {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s: %v\n", k, defaults[k])
		}
		return nil
	},
}

// configCheckCmd represents the config check command
var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration and target reachability",
	Long:  `Validate the effective configuration and send one request to the target root.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration check:")
		fmt.Fprintf(out, "  ✅ replayctl version: %s\n", Version)

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(out, "  ❌ Configuration: %v\n", err)
			return err
		}
		fmt.Fprintln(out, "  ✅ Configuration: valid")

		if checkJQAvailable() {
			fmt.Fprintln(out, "  ✅ jq: available")
		} else {
			fmt.Fprintln(out, "  ⚠️  jq: not found in PATH (--pretty falls back to standard formatting)")
		}

		fmt.Fprintln(out, "\nTesting target connectivity...")
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Target.RequestTimeout)
		defer cancel()
		url := cfg.TargetURL("/")
		resp, err := transport.New(transport.WithTimeout(cfg.Target.RequestTimeout)).Do(ctx, url)
		if err != nil {
			fmt.Fprintf(out, "  ❌ Target %s: %v\n", url, err)
			return nil
		}
		fmt.Fprintf(out, "  ✅ Target %s: %d %s\n", url, resp.Status, resp.Reason)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)

	// Flags for init command
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}

func configFilePath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".replayctl.yaml"), nil
}

func validKeys() []string {
	keys := []string{"json", "pretty", "verbose"}
	for k := range runFlags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// redact hides credentials before a config is printed.
func redact(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&cfg.Auth.Token)
	mask(&cfg.Auth.Secret)
	mask(&cfg.Sinks.PostgresDSN)
	return cfg
}

func writeConfig(w io.Writer, cfg config.Config) {
	fmt.Fprintln(w, "Current configuration:")
	fmt.Fprintf(w, "  Target: %s\n", cfg.TargetURL("/"))
	fmt.Fprintf(w, "  Request timeout: %s\n", cfg.Target.RequestTimeout)
	fmt.Fprintf(w, "  Speed: %v\n", cfg.Playback.Speed)
	fmt.Fprintf(w, "  Queue size: %d\n", cfg.Playback.QueueCapacity)
	fmt.Fprintf(w, "  Workers: %d\n", cfg.Playback.Workers)
	if cfg.Playback.MaxRPS > 0 {
		fmt.Fprintf(w, "  Max RPS: %v\n", cfg.Playback.MaxRPS)
	}
	fmt.Fprintf(w, "  Input: %s\n", cfg.IO.Input)
	fmt.Fprintf(w, "  Output: %s\n", cfg.IO.Output)
	fmt.Fprintf(w, "  Delimiter: %q\n", cfg.IO.Delimiter)
	if cfg.Sinks.PostgresDSN != "" {
		fmt.Fprintf(w, "  Postgres: %s\n", cfg.Sinks.PostgresDSN)
	}
	if cfg.Sinks.SQLitePath != "" {
		fmt.Fprintf(w, "  SQLite: %s\n", cfg.Sinks.SQLitePath)
	}
	if cfg.Sinks.NsqdTCPAddr != "" {
		fmt.Fprintf(w, "  NSQ: %s (topic %s)\n", cfg.Sinks.NsqdTCPAddr, cfg.Sinks.ResultsTopic)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics: %s\n", cfg.MetricsAddr)
	}
	fmt.Fprintf(w, "  Log level: %s\n", cfg.LogLevel)
}
