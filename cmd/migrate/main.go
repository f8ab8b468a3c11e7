package main

// Run database migrations for the postgres result cache:
//   go run ./cmd/migrate up
//   go run ./cmd/migrate status
//   go run ./cmd/migrate down

import (
	"context"
	"database/sql"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"placelink-backend/internal/shared/config"
	"placelink-backend/internal/shared/storage/db"
)

func main() {
	cmd := &cli.Command{
		Name:  "migrate",
		Usage: "manage the cache_entries schema",
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "apply pending migrations",
				Action: withDB(db.RunMigrations),
			},
			{
				Name:   "status",
				Usage:  "print applied and pending migrations",
				Action: withDB(db.MigrationStatus),
			},
			{
				Name:   "down",
				Usage:  "roll back the latest migration",
				Action: withDB(db.RollbackOne),
			},
		},
		DefaultCommand: "up",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Printf("migrate: %v", err)
		os.Exit(1)
	}
}

func withDB(run func(context.Context, *sql.DB) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		_ = cmd
		cfg := config.Load()
		opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		return run(ctx, sqlDB)
	}
}
