package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
	"github.com/ManuelReschke/ForumFox/internal/pkg/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var DB *gorm.DB

// GetDB returns the process database handle.
func GetDB() *gorm.DB {
	return DB
}

// SetDB replaces the process database handle (tests, CLIs).
func SetDB(db *gorm.DB) {
	DB = db
}

// AllModels lists every table managed by AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Topic{},
		&models.Comment{},
		&models.Notification{},
		&models.Attachment{},
		&models.SubscriptionRecord{},
		&models.BillingWebhookEvent{},
	}
}

// DSN builds the connection string for driver from DB_* variables.
func DSN(driver string) string {
	switch driver {
	case DriverPostgres:
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_USER", ""),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_NAME", ""),
			env.GetEnv("DB_PORT", "5432"),
			env.GetEnv("DB_SSLMODE", "disable"),
		)
	case DriverSQLite:
		return env.GetEnv("DB_PATH", "forumfox.db")
	default:
		// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			env.GetEnv("DB_USER", ""),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_NAME", ""),
		)
	}
}

// Open connects to driver without retries.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	}
	if env.IsDev() {
		cfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	switch strings.ToLower(driver) {
	case DriverPostgres:
		return gorm.Open(postgres.Open(dsn), cfg)
	case DriverSQLite:
		return gorm.Open(sqlite.Open(dsn), cfg)
	case DriverMySQL, "":
		return gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), cfg)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// SetupDatabase connects with retries and auto-migrates in development
// or when DB_AUTO_MIGRATE is set.
func SetupDatabase() {
	log := logger.Named("database")
	driver := strings.ToLower(env.GetEnv("DB_DRIVER", DriverMySQL))
	dsn := DSN(driver)

	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = Open(driver, dsn)
		if err == nil {
			if env.IsDev() || env.GetEnvBool("DB_AUTO_MIGRATE", false) {
				if err := DB.AutoMigrate(AllModels()...); err != nil {
					log.Error("auto migrate failed", zap.Error(err))
				}
			}
			log.Info("database connected", zap.String("driver", driver))
			return
		}

		log.Warn("failed to connect to database",
			zap.String("driver", driver), zap.Int("try", i+1), zap.Int("max", maxRetries), zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
}
