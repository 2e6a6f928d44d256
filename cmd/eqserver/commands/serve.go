package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campushub/eqserver/internal/app"
	"github.com/campushub/eqserver/pkg/transport"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the equipment-protocol server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// migrate also defines --db; bind this command's flag at run time
			// so the other command's binding does not shadow it.
			v.BindPFlag("db", cmd.Flags().Lookup("db"))
			return runServe()
		},
	}

	flags := cmd.Flags()
	flags.String("listen", ":9000", "TCP listen address")
	flags.String("db", "eqserver.db", "SQLite database path (\":memory:\" allowed)")
	flags.Duration("heartbeat-timeout", 60*time.Second, "heartbeat timeout before a connection is reaped")
	flags.Uint32("max-frame", transport.DefaultMaxMessageSize, "maximum frame body size in bytes")
	flags.Duration("maintenance-interval", time.Second, "supervisor tick period")

	v.BindPFlag("listen", flags.Lookup("listen"))
	v.BindPFlag("db", flags.Lookup("db"))
	v.BindPFlag("heartbeat_timeout", flags.Lookup("heartbeat-timeout"))
	v.BindPFlag("max_frame", flags.Lookup("max-frame"))
	v.BindPFlag("maintenance_interval", flags.Lookup("maintenance-interval"))

	return cmd
}

func runServe() error {
	logger := newLogger()

	a, err := app.New(app.Config{
		ListenAddr:          v.GetString("listen"),
		DBPath:              v.GetString("db"),
		HeartbeatTimeout:    v.GetDuration("heartbeat_timeout"),
		MaxFrameSize:        v.GetUint32("max_frame"),
		MaintenanceInterval: v.GetDuration("maintenance_interval"),
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
