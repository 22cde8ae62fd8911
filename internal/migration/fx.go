package migration

import (
	"github.com/smallbiznis/contractbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.RunMigrations || cfg.DBType != "postgres" {
			log.Info("skipping migrations", zap.String("db_type", cfg.DBType), zap.Bool("enabled", cfg.RunMigrations))
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
