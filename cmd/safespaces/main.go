// Command safespaces runs the geofence notification service and its
// operator tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/safespaces/internal/config"
	"github.com/signalsfoundry/safespaces/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "safespaces",
		Short:         "Geofence transitions and guardian notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("store", "", "SQLite database path")
	_ = v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("store.path", root.PersistentFlags().Lookup("store"))

	root.AddCommand(serveCmd(v), zonesCmd(v), replayCmd(v))
	return root
}

// loadConfig resolves configuration for cmd from flags, files and the
// environment.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	return config.Load(v, path, envFile)
}

func newLogger(cfg config.Config) logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}
