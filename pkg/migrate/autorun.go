package migrate

import (
	"context"

	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/db"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations in dev when auto-migrate is on.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.SQL()
	if err != nil {
		return err
	}
	build := NewRunner
	if cfg.DB.IsSQLite() {
		build = NewSQLiteRunner
	}
	runner, err := build(sqlDB, Embedded(), logg)
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})
	logg.Info(ctx, "running dev migrations")
	if err := runner.Up(ctx); err != nil {
		return err
	}
	logg.Info(ctx, "dev migrations complete")
	return nil
}
