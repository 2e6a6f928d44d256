package commands

import (
	"github.com/campushub/eqserver/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bootstrap the database schema without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// serve also defines --db; bind this command's flag at run time
			// so the other command's binding does not shadow it.
			v.BindPFlag("db", cmd.Flags().Lookup("db"))
			return runMigrate()
		},
	}

	flags := cmd.Flags()
	flags.String("db", "eqserver.db", "SQLite database path")
	v.BindPFlag("db", flags.Lookup("db"))

	return cmd
}

func runMigrate() error {
	logger := newLogger()

	s, err := store.Open(v.GetString("db"))
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info().Str("db", v.GetString("db")).Msg("schema migrated")
	return nil
}
