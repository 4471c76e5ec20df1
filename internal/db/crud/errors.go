package crud

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUnknownAttribute  = errors.New("unknown attribute")
	ErrAlreadyExists     = errors.New("already exists")
	ErrReferenceNotFound = errors.New("referenced record not found")
	ErrStillReferenced   = errors.New("record is still referenced")
	ErrVersionConflict   = errors.New("version conflict")
	ErrInvalidKey        = errors.New("invalid primary key")
)

// коды SQLSTATE
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapPgError переводит нарушения ограничений Postgres в ошибки пакета.
// deleting: FK-ошибка при удалении означает входящие ссылки, а не отсутствующую цель.
func mapPgError(fqn string, err error, deleting bool) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", fqn, err)
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%s: %w (%s)", fqn, ErrAlreadyExists, pgErr.ConstraintName)
	case pgForeignKeyViolation:
		if deleting {
			return fmt.Errorf("%s: %w (%s)", fqn, ErrStillReferenced, pgErr.ConstraintName)
		}
		return fmt.Errorf("%s: %w (%s)", fqn, ErrReferenceNotFound, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", fqn, err)
}
