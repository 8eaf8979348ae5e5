package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"github.com/yeremiapane/pos-backend/utils"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxRetryBackoff = 30 * time.Second

// Dialector picks the gorm driver for cfg.DBDriver.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// InitDB connects with a bounded number of attempts, doubling the wait
// between them up to 30s, and gives up once ctx is done.
func InitDB(ctx context.Context, cfg *Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	backoff := cfg.DBRetryBackoff
	var lastErr error
	for attempt := 1; attempt <= cfg.DBConnectRetries; attempt++ {
		db, err := open(dialector, cfg)
		if err == nil {
			utils.InfoLogger.WithFields(logrus.Fields{
				"driver":  cfg.DBDriver,
				"attempt": attempt,
			}).Info("connected to database")
			return db, nil
		}
		lastErr = err

		if attempt == cfg.DBConnectRetries {
			break
		}
		utils.ErrorLogger.WithFields(logrus.Fields{
			"driver":   cfg.DBDriver,
			"attempt":  attempt,
			"retry_in": backoff.String(),
		}).Warnf("failed to connect database: %v", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", cfg.DBConnectRetries, lastErr)
}

func open(dialector gorm.Dialector, cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger()})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if cfg.DBMaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns >= 0 {
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		utils.ErrorLogger.Warnf("db connected but failed to install otelgorm plugin: %v", err)
	}
	return db, nil
}

func gormLogger() logger.Interface {
	return logger.New(
		log.New(utils.ErrorLogger.WriterLevel(logrus.ErrorLevel), "", 0),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  logger.Error,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}
