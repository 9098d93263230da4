// Package db opens the gorm connection shared by the intent store and the
// outbox.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

const pingTimeout = 5 * time.Second

var errDSNRequired = errors.New("database DSN is required")

type Client struct {
	conn *gorm.DB
}

// New opens the configured driver and applies the pool limits. Postgres
// connections are pinged before New returns.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errDSNRequired
	}
	conn, err := gorm.Open(dialector(cfg), &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQueryThreshold),
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", driverName(cfg), err)
	}
	c := &Client{conn: conn}

	sqlDB, err := c.SQL()
	if err != nil {
		return nil, err
	}
	configurePool(sqlDB, cfg)

	if !cfg.IsSQLite() {
		if err := c.Ping(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("pinging postgres: %w", err)
		}
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "driver", driverName(cfg)), "database connection established")
	}
	return c, nil
}

// NewFromGorm wraps an already opened connection, mostly for tests.
func NewFromGorm(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

func driverName(cfg config.DBConfig) string {
	if cfg.IsSQLite() {
		return config.DriverSQLite
	}
	return "postgres"
}

func dialector(cfg config.DBConfig) gorm.Dialector {
	if cfg.IsSQLite() {
		return sqlite.Open(cfg.DSN)
	}
	// Simple protocol keeps the pool usable behind transaction-mode poolers.
	return postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true})
}

func configurePool(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.IsSQLite() {
		// One connection keeps a shared in-memory database alive and
		// serializes writers.
		sqlDB.SetMaxOpenConns(1)
		return
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

// SQL returns the pooled database/sql handle behind the gorm connection.
func (c *Client) SQL() (*sql.DB, error) {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	return sqlDB, nil
}

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.SQL()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	sqlDB, err := c.SQL()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx commits when fn returns nil and rolls back on an error or panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
