package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chainlist-backend/config"

	"github.com/go-sql-driver/mysql"
)

// DSN builds a driver DSN from the MySQL settings. Host keeps the
// "tcp(host:port)" form used by MYSQL_HOST.
func DSN(cfg config.MySQL) (string, error) {
	raw := fmt.Sprintf("%s:%s@%s/%s", cfg.User, cfg.Password, cfg.Host, cfg.Database)
	parsed, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}

// Open connects to MySQL and verifies the connection.
func Open(ctx context.Context, cfg config.MySQL) (*sql.DB, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	conn.SetConnMaxLifetime(3 * time.Minute)
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(10)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	return conn, nil
}
