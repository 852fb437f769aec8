package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pavel-fokin/files-vault/internal/files"
)

const fileColumns = `f.id, f.name, f.mime_type, f.size, f.owner_id, f.is_public, f.created_at, f.updated_at`

// Tx implements files.Tx over a database/sql transaction.
type Tx struct {
	tx      *sql.Tx
	dialect dialect
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.dialect.wrap("commit transaction", t.tx.Commit())
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return t.dialect.wrap("rollback transaction", err)
}

// Create stores file metadata
func (t *Tx) Create(ctx context.Context, file *files.File) error {
	query := `
	INSERT INTO file (id, name, mime_type, size, owner_id, is_public, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, t.dialect.rebind(query),
		file.ID,
		file.Name,
		file.MimeType,
		int64(file.Size),
		file.OwnerID,
		file.IsPublic,
		file.CreatedAt.UTC(),
		file.UpdatedAt.UTC(),
	)
	if err != nil {
		if files.ErrAlreadyExists.Has(t.dialect.classify(err)) {
			return files.ErrAlreadyExists.New("file %q", file.Name)
		}
		return t.dialect.wrap("create file record", err)
	}

	return nil
}

// FindByID retrieves file metadata by ID
func (t *Tx) FindByID(ctx context.Context, id uuid.UUID) (*files.File, error) {
	query := `SELECT ` + fileColumns + ` FROM file f WHERE f.id = ?`

	file, err := scanFile(t.tx.QueryRowContext(ctx, t.dialect.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, files.ErrNotFound.New("file %s", id)
		}
		return nil, t.dialect.wrap("find file", err)
	}

	return file, nil
}

// FindByName retrieves file metadata by its unique name
func (t *Tx) FindByName(ctx context.Context, name string) (*files.File, error) {
	query := `SELECT ` + fileColumns + ` FROM file f WHERE f.name = ?`

	file, err := scanFile(t.tx.QueryRowContext(ctx, t.dialect.rebind(query), name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, files.ErrNotFound.New("file %q", name)
		}
		return nil, t.dialect.wrap("find file by name", err)
	}

	return file, nil
}

// ListOwned calls fn for every file owned by owner, as rows arrive.
func (t *Tx) ListOwned(ctx context.Context, owner uuid.UUID, fn func(*files.File) error) error {
	query := `SELECT ` + fileColumns + ` FROM file f WHERE f.owner_id = ?`
	return t.each(ctx, "list owned files", query, fn, owner)
}

// ListShared calls fn for every file granted to user that user does not own.
func (t *Tx) ListShared(ctx context.Context, user uuid.UUID, fn func(*files.File) error) error {
	query := `
	SELECT ` + fileColumns + `
	FROM file f
	JOIN file_access a ON a.file_id = f.id
	WHERE a.user_id = ? AND f.owner_id <> ?
	`
	return t.each(ctx, "list shared files", query, fn, user, user)
}

func (t *Tx) each(ctx context.Context, op, query string, fn func(*files.File) error, args ...any) error {
	rows, err := t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
	if err != nil {
		return t.dialect.wrap(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return t.dialect.wrap(op, err)
		}
		if err := fn(file); err != nil {
			return err
		}
	}

	return t.dialect.wrap(op, rows.Err())
}

// HasGrant reports whether userID was granted access to fileID.
func (t *Tx) HasGrant(ctx context.Context, fileID, userID uuid.UUID) (bool, error) {
	query := `SELECT 1 FROM file_access WHERE file_id = ? AND user_id = ?`

	var one int
	err := t.tx.QueryRowContext(ctx, t.dialect.rebind(query), fileID, userID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, t.dialect.wrap("check grant", err)
	}

	return true, nil
}

// AddGrant inserts a grant row. Existing grants are left untouched.
func (t *Tx) AddGrant(ctx context.Context, fileID, userID uuid.UUID) error {
	query := `
	INSERT INTO file_access (file_id, user_id)
	VALUES (?, ?)
	ON CONFLICT (file_id, user_id) DO NOTHING
	`

	if _, err := t.tx.ExecContext(ctx, t.dialect.rebind(query), fileID, userID); err != nil {
		return t.dialect.wrap("add grant", err)
	}

	return nil
}

// SetPublic updates the public flag of a single file.
func (t *Tx) SetPublic(ctx context.Context, fileID uuid.UUID, public bool, at time.Time) error {
	query := `UPDATE file SET is_public = ?, updated_at = ? WHERE id = ?`

	result, err := t.tx.ExecContext(ctx, t.dialect.rebind(query), public, at.UTC(), fileID)
	if err != nil {
		return t.dialect.wrap("update visibility", err)
	}

	return requireAffected(result, fileID)
}

// Delete removes file metadata by ID. Grants go with it through the
// ON DELETE CASCADE foreign key.
func (t *Tx) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM file WHERE id = ?`

	result, err := t.tx.ExecContext(ctx, t.dialect.rebind(query), id)
	if err != nil {
		return t.dialect.wrap("delete file record", err)
	}

	return requireAffected(result, id)
}

func requireAffected(result sql.Result, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return files.ErrStorage.New("failed to get rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return files.ErrNotFound.New("file %s", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*files.File, error) {
	var (
		file files.File
		size int64
	)
	err := s.Scan(
		&file.ID,
		&file.Name,
		&file.MimeType,
		&size,
		&file.OwnerID,
		&file.IsPublic,
		&file.CreatedAt,
		&file.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	file.Size = uint32(size)
	return &file, nil
}
