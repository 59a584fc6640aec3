package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vpn-billing/internal/config"
	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
)

func ConnectPostgres(cfg *config.Config, log *logger.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, ierr.Mark(ierr.Wrap(err, "failed to connect to database"), ierr.ErrDatabase)
	}

	log.Infow("Connected to PostgreSQL", "host", cfg.DBHost, "db", cfg.DBName)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates every billing table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return ierr.Mark(ierr.Wrap(err, "failed to migrate database"), ierr.ErrDatabase)
	}
	return nil
}
