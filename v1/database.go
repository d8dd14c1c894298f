package v1

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/faithconnect/member-service/config"
	"github.com/faithconnect/member-service/shared/utils"
	"github.com/faithconnect/member-service/v1/models"
	"github.com/faithconnect/member-service/v1/store"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseConfig holds GORM database connection configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	Username        string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// RunMigration applies AutoMigrate for the member table on connect
	RunMigration bool
}

// NewDatabaseConfig creates a new GORM database configuration from the environment
func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:            utils.GetEnvOrDefault("DB_HOST", "localhost"),
		Port:            utils.GetEnvOrDefault("DB_PORT", "5432"),
		Username:        utils.GetEnvOrDefault("DB_USERNAME", "postgres"),
		Password:        utils.GetEnvOrDefault("DB_PASSWORD", "password"),
		Database:        utils.GetEnvOrDefault("DB_NAME", "faithconnect"),
		SSLMode:         utils.GetEnvOrDefault("DB_SSLMODE", "require"),
		MaxOpenConns:    utils.GetEnvIntOrDefault("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    utils.GetEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: utils.GetEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: utils.GetEnvDurationOrDefault("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		RunMigration:    utils.GetEnvBoolOrDefault("RUN_MIGRATION", false),
	}
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		// maps driver errors onto gorm.ErrDuplicatedKey and friends
		TranslateError: true,
	}
}

// ConnectGormDB establishes a GORM connection to PostgreSQL
func ConnectGormDB(config *DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(config.DSN()), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database with GORM",
		"host", config.Host,
		"port", config.Port,
		"database", config.Database)

	if config.RunMigration {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	} else {
		slog.Info("Database connected (migration skipped)")
	}
	return db, nil
}

// ConnectSQLite opens a SQLite database file and migrates it. SQLite allows
// one writer, so the pool is limited to a single connection.
func ConnectSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	slog.Info("Opened SQLite member database", "path", path)
	return db, nil
}

// Migrate creates or updates the member table
func Migrate(db *gorm.DB) error {
	slog.Info("Running GORM auto-migration")
	if err := db.AutoMigrate(&models.Member{}); err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}
	slog.Info("GORM auto-migration completed successfully")
	return nil
}

// RetryPolicy converts the sync settings into a store retry policy
func RetryPolicy(cfg config.SyncConfig) store.RetryPolicy {
	policy := store.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	return policy
}

// OpenStore connects the member store selected by cfg.Store.Backend
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	policy := RetryPolicy(cfg.Sync)

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := ConnectGormDB(NewDatabaseConfig())
		if err != nil {
			return nil, err
		}
		return store.NewGormStore(db, policy), nil
	case config.BackendSQLite:
		db, err := ConnectSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store.NewGormStore(db, policy), nil
	case config.BackendMongo:
		return store.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, policy)
	case config.BackendMemory:
		slog.Warn("Using in-memory member store; data is lost on restart")
		return store.NewMemoryStore(store.WithRetryPolicy(policy)), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.Store.Backend)
	}
}
