// Package cmd implements the CLI commands for camgate.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/camgate/internal/config"
	"github.com/jmylchreest/camgate/internal/observability"
	"github.com/jmylchreest/camgate/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "camgate",
	Short:   "Snapshot gateway for a multi-channel CCTV head-end",
	Version: version.Short(),
	Long: `camgate sits between browser viewers and a CCTV head-end. It fetches
per-channel JPEG snapshots with bounded concurrency, caches them, backs off
overloaded channels, and serves grid, cycle and single-channel views over a
small HTTP API. It can also read the main MJPEG stream, annotate frames with
an external object detector and forward the latest frame to a remote receiver.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Assigned here because initLogging reads rootCmd's flags.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Not bound to viper: an unset flag must not shadow env or file values.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.camgate.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/camgate")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".camgate")
	}

	viper.SetEnvPrefix("CAMGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging installs the default logger. Precedence is explicit flag,
// then CAMGATE_LOGGING_* env, then config file, then built-in default.
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logCfg := config.LoggingConfig{
		Level:      strings.ToLower(level),
		Format:     strings.ToLower(format),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}
	if logCfg.Level == "" {
		logCfg.Level = "info"
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}
	if logCfg.Format == "" {
		logCfg.Format = "json"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(observability.WithApp(logger, version.ApplicationName))

	return nil
}

// mustBindPFlag binds a viper key to a flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
