package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"accounts/internal/model"
)

// duplicate_object: constraint уже добавлен прошлым прогоном
const pgDuplicateObject = "42710"

// ApplyDDL выполняет шаги в порядке ключей. DDL должен быть идемпотентным
// (create ... if not exists); повторный add constraint пропускается.
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string) error {
	applied, skipped := 0, 0
	for _, step := range slices.Sorted(maps.Keys(ddl)) {
		stmt := strings.TrimSpace(ddl[step])
		if stmt == "" {
			continue
		}
		_, err := db.ExecContext(ctx, stmt)
		var pgErr *pgconn.PgError
		switch {
		case err == nil:
			applied++
		case errors.As(err, &pgErr) && pgErr.Code == pgDuplicateObject:
			skipped++
			slog.Debug("pg: ddl step skipped", "step", step, "constraint", pgErr.ConstraintName)
		default:
			return fmt.Errorf("pg: ddl step %s: %w", step, err)
		}
	}
	slog.Info("pg: ddl applied", "steps", applied, "skipped", skipped)
	return nil
}

// Migrate генерирует DDL по реестру моделей и применяет его.
func Migrate(ctx context.Context, db *sql.DB, reg *model.Registry) error {
	ddl, err := GenerateDDL(reg)
	if err != nil {
		return err
	}
	return ApplyDDL(ctx, db, ddl)
}
