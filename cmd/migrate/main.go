// Command migrate applies the ORO wallet schema with goose.
//
//	migrate up                 create or upgrade the wallets table
//	migrate status             list applied and pending migrations
//	migrate down               revert the newest migration
//	migrate up-to <version>    apply through a specific version
//
// DATABASE_URL selects the database and MIGRATIONS_DIR overrides the
// default "migrations" directory. Both may come from a .env file.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/oro/internal/logging"
)

const (
	defaultMigrationsDir = "migrations"
	connectTimeout       = 10 * time.Second
)

var errUsage = errors.New("usage: migrate <up|down|status|version|redo|up-to N|down-to N>")

func main() {
	_ = godotenv.Load()

	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if err := run(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		logger.Error("wallet schema migration failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	command, rest := args[0], args[1:]

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return errors.New("DATABASE_URL is required to migrate the wallet store")
	}
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = defaultMigrationsDir
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open wallet database: %w", err)
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("reach wallet database: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, db, dir, rest...); err != nil {
		return fmt.Errorf("%s %s: %w", command, dir, err)
	}
	return nil
}
