// Package commands implements eqserver's command-line surface: serve and
// migrate, both cobra.Command values sharing one viper-backed config
// layer (flags > environment > eqserver.yaml > defaults).
package commands

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

// Execute runs the root command; main calls this and exits non-zero on
// any returned error, per the original spec's exit-code contract.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eqserver",
		Short: "Campus equipment management backend",
		Long: "eqserver multiplexes TCP connections from equipment simulators and\n" +
			"operator desktop clients, coordinating registration, health, remote\n" +
			"control, reservations, energy metering, and threshold alarms against\n" +
			"a SQLite database of record.",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())

	return root
}

func init() {
	v.SetEnvPrefix("eqserver")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("eqserver")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if cfgDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(cfgDir + "/eqserver")
	}
	// A missing config file is not an error: flags, env vars, and the
	// defaults registered by each command still apply.
	_ = v.ReadInConfig()
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(v.GetString("log_level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
}
