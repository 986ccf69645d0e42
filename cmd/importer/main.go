package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rating_store/internal/adapters/observability"
	"rating_store/internal/shared"
	mysqlrepo "rating_store/internal/storage/mysql"
)

var cfg shared.Config

var rootCmd = &cobra.Command{
	Use:   "importer",
	Short: "Rebuild the rating tables from legacy marker rows",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Logger = observability.NewLogger(cfg.AppEnv)
	},
}

func main() {
	cfg = shared.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(newRunCmd(), newSchemaCmd())
	rootCmd.PersistentFlags().StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "Database driver: mysql or sqlite")
	rootCmd.PersistentFlags().StringVar(&cfg.DBDSN, "dsn", cfg.DBDSN, "Database DSN")
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openRepo(ctx context.Context) (*mysqlrepo.Repo, func(), error) {
	db, dialect, err := mysqlrepo.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	return mysqlrepo.New(db, mysqlrepo.WithDialect(dialect)), func() { _ = db.Close() }, nil
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the tables if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()
			if err := repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Str("driver", cfg.DBDriver).Msg("schema ready")
			return nil
		},
	}
}
