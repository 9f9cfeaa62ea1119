package migrate

import (
	"context"
	"fmt"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/config"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

// MaybeRunDev brings a dev database up to the newest embedded migration when
// DROPSHIP_AUTO_MIGRATE is set. Shared environments migrate through
// cmd/migrate instead, so this is a no-op there.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	versions, err := Validate(embedded, embeddedDir)
	if err != nil {
		return fmt.Errorf("embedded migrations: %w", err)
	}
	latest, err := parseVersion(versions[len(versions)-1])
	if err != nil {
		return err
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	current, err := CurrentVersion(ctx, sqlDB)
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":            cfg.App.Env,
		"schema_version": current,
		"target_version": latest,
	})
	if current >= latest {
		logg.Info(ctx, "schema up to date; skipping dev auto-migrate")
		return nil
	}

	logg.Info(ctx, "applying pending migrations (dev auto-run)")
	if err := Run(ctx, sqlDB, "up"); err != nil {
		return err
	}
	logg.Info(ctx, "dev auto-migrate complete")
	return nil
}
