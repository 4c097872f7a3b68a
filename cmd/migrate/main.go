package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"sort"

	"StableLedger/internal/config"
	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"

	_ "github.com/lib/pq"
)

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-config file] <up|down|status>")
	fmt.Fprintln(os.Stderr, "  up     - apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  down   - roll back the last migration")
	fmt.Fprintln(os.Stderr, "  status - list migrations and whether each is applied")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  STABLE_POSTGRES_DSN    - Postgres connection string")
	fmt.Fprintln(os.Stderr, "  STABLE_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
	fs.PrintDefaults()
}

func main() {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	cfg, err := config.LoadFromFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		usage(fs)
		os.Exit(2)
	}

	logger := observability.NewLoggerWithLevel("migrate", observability.ParseLogLevel(cfg.LogLevel))

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger)

	switch cmd := fs.Arg(0); cmd {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		status, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		files := make([]string, 0, len(status))
		for f := range status {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			state := "pending"
			if status[f] {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, f)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage(fs)
		os.Exit(2)
	}
}
