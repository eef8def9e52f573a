package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fairfund/fairfund-backend/internal/config"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// DB holds the two connection pools: gorm for the ledger store and sqlx for
// read-side queries.
type DB struct {
	Gorm *gorm.DB
	SQLX *sqlx.DB
}

// Connect opens both pools, retrying while the database comes up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.GetDatabaseURL()
	logger.Info("Connecting to database",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("db", cfg.DBName))

	var (
		gdb *gorm.DB
		err error
	)
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		gdb, err = openGorm(ctx, dsn, cfg, logger)
		if err == nil {
			break
		}
		logger.Warn("Database not ready",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == connectAttempts {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * connectBackoff):
		}
	}

	xdb, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		closeGorm(gdb)
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	xdb.SetMaxOpenConns(cfg.MaxConnections)
	xdb.SetMaxIdleConns(cfg.MaxIdleConns)
	xdb.SetConnMaxLifetime(cfg.MaxLifetime)

	logger.Info("Database connection established")
	return &DB{Gorm: gdb, SQLX: xdb}, nil
}

func openGorm(ctx context.Context, dsn string, cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return gdb, nil
}

func closeGorm(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Close closes both pools
func (d *DB) Close() error {
	closeGorm(d.Gorm)
	return d.SQLX.Close()
}
