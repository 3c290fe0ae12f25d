// Package history persists a journal of workflow runs and their controller
// steps to MySQL.
package history

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config contains database configuration
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	Database           string
	MaxConnections     int
	MaxIdleConnections int
	ConnectionLifetime time.Duration
	LogLevel           string
}

// DSN returns the MySQL data source name.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Connection wraps the GORM database connection
type Connection struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewConnection connects to the journal database.
func NewConnection(cfg *Config, zapLogger *zap.Logger) (*Connection, error) {
	conn, err := Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	}, zapLogger)
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.ConnectionLifetime)

	zapLogger.Info("history database connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database))

	return conn, nil
}

// Open opens a connection through any GORM dialector.
func Open(dialector gorm.Dialector, gormConfig *gorm.Config, zapLogger *zap.Logger) (*Connection, error) {
	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Connection{db: db, logger: zapLogger}, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// DB returns the underlying GORM database instance
func (c *Connection) DB() *gorm.DB {
	return c.db
}

// Close closes the database connection
func (c *Connection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection
func (c *Connection) Ping() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// AutoMigrate creates or updates the journal tables.
func (c *Connection) AutoMigrate() error {
	if err := c.db.AutoMigrate(&WorkflowRun{}, &StepRecord{}); err != nil {
		return fmt.Errorf("failed to migrate history tables: %w", err)
	}
	c.logger.Info("history tables migrated")
	return nil
}
