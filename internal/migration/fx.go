package migration

import (
	"strings"

	"github.com/smallbiznis/authgate/internal/config"
	"github.com/smallbiznis/authgate/internal/seed"
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
		} else if err := AutoMigrate(conn); err != nil {
			return err
		}

		if cfg.SeedEnabled {
			return seed.EnsureTestClient(conn)
		}
		return nil
	}),
)
