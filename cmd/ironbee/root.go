package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/A-new/ironbee/pkg/cli"
	"github.com/A-new/ironbee/pkg/config"
	"github.com/A-new/ironbee/pkg/telemetry/logging"
)

var rootCmd = &cobra.Command{
	Use:   "ironbee",
	Short: "IronBee - WAF rule engine",
	Long: `IronBee evaluates Rule and RuleExt directives against HTTP transactions,
phase by phase, and records every evaluated rule in an audit trail.

Settings come from the --config YAML file, then IRONBEE_* environment
variables, then flags.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		if !exitErr.Silent {
			fmt.Fprintln(stderr, "Error:", exitErr)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: json, text, console")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (debug logging)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// IRONBEE_CONFIG, IRONBEE_LOG_LEVEL, IRONBEE_LOG_FORMAT, IRONBEE_VERBOSE
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the file named by --config, or the defaults when none is
// given, with IRONBEE_SECTION_FIELD overrides applied.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return config.FromEnv()
	}
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	return cfg, nil
}

// configDir is the directory of the --config file, or "" without one.
func configDir() string {
	if path := viper.GetString("config"); path != "" {
		return filepath.Dir(path)
	}
	return ""
}

// newLogger builds the process logger. Command-line log settings take
// precedence over the config file. Logs go to stderr so command output on
// stdout stays machine-readable.
func newLogger(cmd *cobra.Command, cfg logging.Config) (*logging.Logger, error) {
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Level = lvl
	}
	if viper.GetBool("verbose") {
		cfg.Level = "debug"
	}
	if f := viper.GetString("log-format"); f != "" {
		cfg.Format = f
	}
	if cfg.Writer == nil {
		cfg.Writer = cmd.ErrOrStderr()
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return logger, nil
}
