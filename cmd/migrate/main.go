package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/config"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/migrate"
)

var errUsage = errors.New("usage")

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	name := flag.String("name", "", "migration name (for -cmd=create)")
	version := flag.String("version", "", "target version YYYYMMDDHHMMSS (for -cmd=version)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	// create and validate work on source files and need no config
	switch *cmd {
	case "create":
		if *name == "" {
			exit(logg, "create", fmt.Errorf("%w: -name is required", errUsage))
		}
		path, err := migrate.CreateSQLMigration(migrate.SourceDir, *name, time.Now())
		exit(logg, "create", err)
		fmt.Println("created migration:", path)
		return
	case "validate":
		exit(logg, "validate", migrate.ValidateDir(migrate.SourceDir))
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	exit(logg, "load config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exit(logg, "connect database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	exit(logg, "extract sql.DB", err)

	switch *cmd {
	case "up", "down", "status":
		err = migrate.Run(ctx, sqlDB, *cmd)
	case "version":
		if *version == "" {
			err = fmt.Errorf("%w: -version is required", errUsage)
			break
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, *version)
	default:
		err = fmt.Errorf("%w: unknown -cmd %q", errUsage, *cmd)
	}
	exit(logg, *cmd, err)
	logg.Info(ctx, "migrate finished")
}

func exit(logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "migrate "+step+" failed", err)
	if errors.Is(err, errUsage) {
		flag.Usage()
		os.Exit(2)
	}
	os.Exit(1)
}
