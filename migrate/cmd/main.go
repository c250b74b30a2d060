package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/legit-games/oauth2/migrate"
	"go.uber.org/zap"
)

func main() {
	driver := flag.String("driver", os.Getenv("MIGRATE_DRIVER"), "database driver: postgres or sqlite")
	dsn := flag.String("dsn", os.Getenv("MIGRATE_DSN"), "database connection string")
	command := flag.String("command", "up", "goose command: up, down, status, version, up-to, down-to, redo, reset")
	target := flag.Int64("target", 0, "target version for up-to and down-to")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := migrate.Run(migrate.Options{
		Driver:  *driver,
		DSN:     *dsn,
		Command: *command,
		Target:  *target,
		Logger:  zap.NewStdLog(logger.Named("migrate")),
	}); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}
	logger.Info("migrate completed", zap.String("driver", *driver), zap.String("command", *command))
}
