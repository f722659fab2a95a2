package migration

import (
	"strings"

	"github.com/smallbiznis/emissor/internal/config"
	"github.com/smallbiznis/emissor/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else if err := autoMigrate(conn); err != nil {
			return err
		}

		if cfg.SeedIssuerID != 0 {
			return seed.EnsureDefaultIssuer(conn, cfg.SeedIssuerID)
		}
		return nil
	}),
)
