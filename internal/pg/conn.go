package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
)

const defaultMaxConns = 10

// Open открывает пул через драйвер pgx и проверяет соединение.
// maxConns <= 0 - значение по умолчанию; простаивающих держим половину.
func Open(ctx context.Context, url string, maxConns int) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("pg: empty database url")
	}
	cc, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("pg: %w", err)
	}
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(1, maxConns/2))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pg: ping %s:%d/%s: %w", cc.Host, cc.Port, cc.Database, err)
	}
	slog.Info("pg: connected", "host", cc.Host, "db", cc.Database, "max_conns", maxConns)
	return db, nil
}
