// Package pgtest поднимает PostgreSQL в контейнере для интеграционных тестов.
package pgtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"accounts/internal/model"
	"accounts/internal/pg"
)

const image = "postgres:16-alpine"

// Start запускает контейнер, применяет DDL реестра и возвращает пул соединений.
// Тест пропускается в -short режиме и без docker.
func Start(t *testing.T, reg *model.Registry) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration: skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("accounts"),
		postgres.WithUsername("accounts"),
		postgres.WithPassword("accounts"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := pg.Open(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, pg.Migrate(ctx, db, reg))
	return db
}
