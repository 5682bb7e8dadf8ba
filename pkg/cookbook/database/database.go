// Package database opens the GORM store and waits for it to become reachable.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config controls how the store is opened
type Config struct {
	// LogSQL enables GORM's statement logger
	LogSQL bool
}

// Open initializes the database connection.
// Uses SQLite; an in-memory DSN is pinned to a single connection so every
// query sees the same database.
func Open(dsn string, cfg Config) (*gorm.DB, error) {
	level := logger.Silent
	if cfg.LogSQL {
		level = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if strings.Contains(dsn, ":memory:") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Ping checks that the database answers
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Wait blocks until p answers a ping, retrying every interval, or until ctx
// is done.
func Wait(ctx context.Context, p Pinger, interval time.Duration, log *slog.Logger) error {
	if interval <= 0 {
		interval = time.Second
	}

	log.Info("waiting for database")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		err := p.PingContext(ctx)
		if err == nil {
			log.Info("database available", slog.Int("attempts", attempt))
			return nil
		}

		log.Warn("database unavailable, retrying",
			slog.Duration("interval", interval),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return fmt.Errorf("database not available after %d attempts: %w", attempt, ctx.Err())
		case <-ticker.C:
		}
	}
}
