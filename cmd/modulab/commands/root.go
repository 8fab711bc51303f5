package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modulab/modulab/pkg/telemetry"
)

// Global flags
var configPath string

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modulab",
		Short: "Modulab - lab module provisioning",
		Long: `Modulab installs, removes, starts and stops self-contained lab modules
on a training machine. Each module is described by a YAML descriptor and
provisioned as a container with its routing, hosts entry and desktop
integration.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("modules-dir", "/etc/modulab/modules", "module descriptor directory")
	rootCmd.PersistentFlags().String("db", "/var/lib/modulab/modulab.db", "run history database path")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "listen address for Prometheus metrics (disabled when empty)")

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newRemoveCommand())
	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newStopCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// initConfig wires flags, the MODULAB_* environment and the optional
// config file into viper. Precedence: flags, then env, then file.
func initConfig(cmd *cobra.Command) error {
	viper.SetEnvPrefix("MODULAB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	viper.SetConfigName("modulab")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/modulab")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		// The config file is optional.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// newLogger builds the CLI logger from the resolved configuration.
func newLogger() (*telemetry.Logger, error) {
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
		Output: "stderr",
	})
}

// serveMetrics exposes the metrics handler when an address is configured.
// The listener dies with the process; lifecycle runs are short.
func serveMetrics(metrics *telemetry.Metrics, log zerolog.Logger) {
	addr := viper.GetString("metrics-addr")
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("Metrics listener failed")
		}
	}()
}
