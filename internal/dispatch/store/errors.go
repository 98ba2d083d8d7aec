package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

// MapDBError turns driver errors into domain errors. Errors that are
// already domain errors, context errors and unrecognized failures pass
// through unchanged.
func MapDBError(err error, entity string) error {
	if err == nil {
		return nil
	}

	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.Error{Kind: domain.KindNotFound, Message: entity + " not found", Cause: err}
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch string(pqErr.Code) {
	case pgerrcode.UniqueViolation:
		return &domain.Error{Kind: domain.KindConflict, Message: entity + " already exists", Cause: err}
	case pgerrcode.ForeignKeyViolation:
		return &domain.Error{Kind: domain.KindValidation, Message: entity + " references a missing record", Cause: err}
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation, pgerrcode.InvalidTextRepresentation:
		return &domain.Error{Kind: domain.KindValidation, Message: "invalid " + entity, Cause: err}
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return &domain.Error{Kind: domain.KindConflict, Message: "concurrent update of " + entity, Cause: err}
	}
	return err
}
