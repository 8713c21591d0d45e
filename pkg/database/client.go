// Package database opens and migrates the durable store. It supports SQLite
// (modernc pure-Go driver, no CGO) for development and tests, and PostgreSQL
// for production. Migrations are embedded in the binary and applied on
// startup via golang-migrate.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// modernc pure-Go SQLite driver, registers itself as "sqlite".
	_ "modernc.org/sqlite"
)

// Driver names accepted by Config.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the connection settings for the durable store.
type Config struct {
	Driver string // "sqlite" or "postgres"; derived from URL when empty
	URL    string // DSN; file path for sqlite, postgres:// URL for postgres

	// Connection pool settings (postgres only; sqlite runs single-writer).
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DetectDriver infers the driver from a DB URL. postgres:// and
// postgresql:// URLs select postgres; everything else is a sqlite path.
func DetectDriver(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Client wraps the gorm handle together with the raw connection used for
// health checks and LISTEN/NOTIFY.
type Client struct {
	*gorm.DB
	db     *stdsql.DB
	driver string
}

// SQLDB returns the underlying database/sql connection pool.
func (c *Client) SQLDB() *stdsql.DB { return c.db }

// Driver returns the active driver name, "sqlite" or "postgres".
func (c *Client) Driver() string { return c.driver }

// IsPostgres reports whether the client talks to PostgreSQL.
func (c *Client) IsPostgres() bool { return c.driver == DriverPostgres }

// Close closes the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens the database, configures pooling, verifies connectivity,
// and applies pending migrations.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDriver(cfg.URL)
	}

	gormCfg := &gorm.Config{
		Logger: newSlogGormLogger(logger, gormlogger.Warn),
	}

	var (
		db    *gorm.DB
		sqlDB *stdsql.DB
		err   error
	)
	switch driver {
	case DriverSQLite:
		// Open via database/sql with the modernc driver, then hand the
		// existing connection to GORM so it does not reach for go-sqlite3.
		sqlDB, err = stdsql.Open("sqlite", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("database: open sqlite: %w", err)
		}
		// SQLite supports a single writer; one connection also makes
		// claim transactions trivially exclusive.
		sqlDB.SetMaxOpenConns(1)
		db, err = gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, gormCfg)
		if err != nil {
			return nil, fmt.Errorf("database: init gorm with sqlite: %w", err)
		}
	case DriverPostgres:
		db, err = gorm.Open(gormpostgres.Open(cfg.URL), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("database: open postgres: %w", err)
		}
		sqlDB, err = db.DB()
		if err != nil {
			return nil, fmt.Errorf("database: get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(defaultInt(cfg.MaxOpenConns, 25))
		sqlDB.SetMaxIdleConns(defaultInt(cfg.MaxIdleConns, 5))
		sqlDB.SetConnMaxLifetime(defaultDuration(cfg.ConnMaxLifetime, 30*time.Minute))
		sqlDB.SetConnMaxIdleTime(defaultDuration(cfg.ConnMaxIdleTime, 5*time.Minute))
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", driver)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	if err := runMigrations(sqlDB, driver); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: migrations: %w", err)
	}
	logger.Info("database ready", "driver", driver)

	return &Client{DB: db, db: sqlDB, driver: driver}, nil
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func defaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
