package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opdbt/opdbt/internal/config"
	"github.com/opdbt/opdbt/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

// v carries flag and OPDBT_* environment overrides of config values.
var v = newViper()

var rootCmd = &cobra.Command{
	Use:   "opdbt",
	Short: "opdbt: rule-driven transformation of database assessment exports",
	Long: `opdbt loads the delimited files of a database assessment collection,
runs the transformation rules of each execution group over them and writes
the derived tables, views and a run report.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.opdbt/opdbt.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("OPDBT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// bindFlags binds the named flags of cmd into v. Binding happens when the
// command runs because several commands share flag names.
func bindFlags(cmd *cobra.Command, keys ...string) error {
	for _, key := range keys {
		f := cmd.Flags().Lookup(key)
		if f == nil {
			f = cmd.InheritedFlags().Lookup(key)
		}
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", key, err)
		}
	}
	return nil
}

// loadConfig reads the config file, applies flag and environment overrides
// and fills defaults. A missing default config file is not an error so
// that a run can be driven by flags alone.
func loadConfig(cmd *cobra.Command, keys ...string) (*config.Config, error) {
	if err := bindFlags(cmd, append(keys, config.KeyLogLevel)...); err != nil {
		return nil, err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		if cfgFile != "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = &config.Config{Version: config.CurrentVersion}
	}

	cfg.ApplyOverrides(v)
	cfg.ApplyDefaults()
	return cfg, nil
}

// newLogger sets up logging for a command. The returned func closes the log
// file and is always safe to call.
func newLogger(cfg *config.Config, console io.Writer) (*slog.Logger, func()) {
	logger, closeLog, err := logging.Setup(cfg.Logging, console)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v, logging to stderr only\n", err)
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(cfg.Logging.Level)})), func() {}
	}
	return logger, func() { _ = closeLog() }
}
