package data

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/telbill/robo-ops/internal/errors"
)

// mapStoreError translates driver-level failures into the application's
// error vocabulary. pgx.ErrNoRows becomes a not-found for the named entity;
// constraint violations become conflicts or validation errors so the HTTP
// layer can pick a status without knowing postgres exists.
func mapStoreError(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound(notFoundMsg)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return apperrors.Wrap(err, apperrors.ErrCodeConflict, "record already exists")
		case pgerrcode.ForeignKeyViolation:
			return apperrors.Wrap(err, apperrors.ErrCodeValidation, "referenced record does not exist")
		case pgerrcode.CheckViolation, pgerrcode.NotNullViolation, pgerrcode.InvalidTextRepresentation:
			return apperrors.Wrap(err, apperrors.ErrCodeValidation, "record violates a database constraint")
		}
	}
	return apperrors.Wrap(err, apperrors.ErrCodeInternal, "database operation failed")
}
