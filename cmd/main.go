package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/victornm/livequiz/internal/auth"
	"github.com/victornm/livequiz/internal/catalog"
	"github.com/victornm/livequiz/internal/config"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "livequiz",
		Short:        "Live multiplayer quiz sessions",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config, defaults and environment only when empty")
	cmd.AddCommand(newServeCmd(&configPath), newMigrateCmd(&configPath), newTokenCmd(&configPath))
	return cmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
			defer stop()

			s, err := server.Init(c)
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}

			errc := make(chan error, 1)
			go func() { errc <- s.Start(ctx) }()

			select {
			case <-ctx.Done():
			case err = <-errc:
			}

			s.Shutdown()
			return err
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the catalog and score tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			for _, m := range []struct {
				name   string
				db     server.PostgresConfig
				schema string
			}{
				{"catalog", c.Postgres.Catalog, catalog.Schema},
				{"score", c.Postgres.Score, score.Schema},
			} {
				if err := migrate(cmd.Context(), m.db, m.schema); err != nil {
					return fmt.Errorf("migrate %s: %w", m.name, err)
				}
				log.Printf("migrated %s", m.name)
			}

			return nil
		},
	}
}

func migrate(ctx context.Context, c server.PostgresConfig, schema string) error {
	db, err := server.ConnectPostgres(c)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec(ctx, schema)
	return err
}

func newTokenCmd(configPath *string) *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin token for a quiz owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			as, err := auth.NewService(auth.Config{Secret: c.Auth.Secret, TTL: c.Auth.TTL})
			if err != nil {
				return err
			}

			token, err := as.IssueToken(userID)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "id of the quiz owner")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()
	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
