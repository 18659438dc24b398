// Package connect opens the Postgres connections shared by the binaries.
package connect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	maxRetries      = 5
	retryDelay      = 3 * time.Second
	maxOpenConns    = 20
	maxIdleConns    = 10
	connMaxLifetime = 30 * time.Minute
)

// Postgres opens a connection pool against url with retries and pool tuning.
func Postgres(ctx context.Context, log *zap.Logger, url string) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 1; i <= maxRetries; i++ {
		log.Info("attempting database connection", zap.Int("attempt", i))
		db, err = sql.Open("postgres", url)
		if err != nil {
			log.Error("failed to open database", zap.Error(err))
			time.Sleep(retryDelay)
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			db.SetMaxOpenConns(maxOpenConns)
			db.SetMaxIdleConns(maxIdleConns)
			db.SetConnMaxLifetime(connMaxLifetime)
			log.Info("database connection established")
			return db, nil
		}
		log.Error("database ping failed", zap.Error(err))
		_ = db.Close()
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("failed to connect to database after %d retries: %w", maxRetries, err)
}
