package sqlstore

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pavel-fokin/files-vault/internal/files"
)

const (
	pqUniqueViolation     pq.ErrorCode = "23505"
	pqForeignKeyViolation pq.ErrorCode = "23503"
)

func classifySQLite(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return files.ErrAlreadyExists.Wrap(err)
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return files.ErrNotFound.Wrap(err)
	}
	return nil
}

func classifyPostgres(err error) error {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return nil
	}
	switch pe.Code {
	case pqUniqueViolation:
		return files.ErrAlreadyExists.Wrap(err)
	case pqForeignKeyViolation:
		return files.ErrNotFound.Wrap(err)
	}
	return nil
}

// wrap turns a driver error into a files error class. Constraint violations
// keep their meaning, everything else is a storage failure.
func (d dialect) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if classified := d.classify(err); classified != nil {
		return classified
	}
	return files.ErrStorage.Wrap(fmt.Errorf("failed to %s: %w", op, err))
}
