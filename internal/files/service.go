package files

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/pavel-fokin/files-vault/internal/stream"
)

const (
	// DownloadChunkSize is the payload size of every download frame but the last.
	DownloadChunkSize = 64 * 1024

	downloadQueueSize = 32
	listQueueSize     = 64 * 1024

	// Largest initial buffer reserved for an upload before bytes arrive.
	maxUploadPrealloc = 1 << 20
)

// Service provides application-level file operations. Every method takes the
// id of the already authenticated caller.
type Service struct {
	storage       BlobStorage
	repo          FileRepository
	clock         clock.Clock
	maxUploadSize uint64
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for created_at and updated_at.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithMaxUploadSize rejects uploads declaring more than n bytes. Zero means
// no limit beyond the 32-bit size field.
func WithMaxUploadSize(n uint64) Option {
	return func(s *Service) { s.maxUploadSize = n }
}

// NewService creates a new file service
func NewService(storage BlobStorage, repo FileRepository, opts ...Option) *Service {
	s := &Service{
		storage: storage,
		repo:    repo,
		clock:   clock.WallClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShareRequest describes a ShareFile call. When Visibility is set the
// grantees are ignored.
type ShareRequest struct {
	FileID     uuid.UUID
	Grantees   []uuid.UUID
	Visibility *bool
}

// Create consumes an upload stream and persists the file.
//
// The first frame is validated and its name checked for availability before
// any payload is buffered. The metadata row, the caller's self-grant and the
// blob are then written in one short transaction once the client half-closes
// and the received length matches the declared size, so a slow client never
// holds the metadata store's write lock. Any failure leaves neither row nor
// blob behind.
func (s *Service) Create(ctx context.Context, caller uuid.UUID, frames FrameReader) (*File, error) {
	first, err := frames.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrInvalidArgument.New("metadata required on first frame")
		}
		return nil, err
	}
	if first.Metadata == nil {
		return nil, ErrInvalidArgument.New("metadata required on first frame")
	}

	meta := *first.Metadata
	if err := s.validate(meta); err != nil {
		return nil, err
	}
	if err := s.checkNameFree(ctx, meta.Name); err != nil {
		return nil, err
	}

	content, err := s.receive(first, frames, meta.Size)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	file := &File{
		ID:        uuid.New(),
		Name:      meta.Name,
		MimeType:  meta.MimeType,
		Size:      meta.Size,
		OwnerID:   caller,
		IsPublic:  meta.IsPublic,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store(ctx, file, content); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "File stored",
		"file_id", file.ID,
		"owner_id", caller,
		"size", humanize.IBytes(uint64(file.Size)),
	)

	return file, nil
}

// checkNameFree fails fast with ErrAlreadyExists when name is taken. The
// unique constraint still decides races at insert time.
func (s *Service) checkNameFree(ctx context.Context, name string) error {
	tx, err := s.repo.BeginRead(ctx)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx)

	_, err = tx.FindByName(ctx, name)
	switch {
	case err == nil:
		return ErrAlreadyExists.New("file %q", name)
	case ErrNotFound.Has(err):
		return tx.Commit()
	default:
		return err
	}
}

// store inserts the row and self-grant and writes the blob in one
// transaction. The blob is removed again if the commit fails.
func (s *Service) store(ctx context.Context, file *File, content []byte) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx)

	if err := tx.Create(ctx, file); err != nil {
		return err
	}
	if err := tx.AddGrant(ctx, file.ID, file.OwnerID); err != nil {
		return err
	}

	if err := s.storage.Write(file.ID, content); err != nil {
		return ErrStorage.Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		if derr := s.storage.Delete(file.ID); derr != nil {
			slog.ErrorContext(ctx, "Failed to remove blob after commit failure", "error", derr, "file_id", file.ID)
		}
		return err
	}
	return nil
}

func (s *Service) validate(meta Metadata) error {
	if meta.Name == "" {
		return ErrInvalidArgument.New("name is required")
	}
	if meta.MimeType == "" {
		return ErrInvalidArgument.New("mime_type is required")
	}
	if s.maxUploadSize > 0 && uint64(meta.Size) > s.maxUploadSize {
		return ErrInvalidArgument.New("declared size %s exceeds limit of %s",
			humanize.IBytes(uint64(meta.Size)), humanize.IBytes(s.maxUploadSize))
	}
	return nil
}

// receive accumulates chunk payloads until the client half-closes. Metadata
// parts after the first frame are ignored.
func (s *Service) receive(first *Frame, frames FrameReader, size uint32) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(uint64(size), maxUploadPrealloc)))

	appendChunk := func(chunk []byte) error {
		if uint64(buf.Len())+uint64(len(chunk)) > uint64(size) {
			return ErrDataLoss.New("size mismatch: declared %d bytes, received more", size)
		}
		buf.Write(chunk)
		return nil
	}

	if first.HasChunk {
		if err := appendChunk(first.Chunk); err != nil {
			return nil, err
		}
	}

	for {
		frame, err := frames.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if frame.Metadata == nil && !frame.HasChunk {
			return nil, ErrDataLoss.New("frame carries neither metadata nor chunk")
		}
		if frame.HasChunk {
			if err := appendChunk(frame.Chunk); err != nil {
				return nil, err
			}
		}
	}

	if buf.Len() != int(size) {
		return nil, ErrDataLoss.New("size mismatch: declared %d bytes, received %d", size, buf.Len())
	}

	return buf.Bytes(), nil
}

// Download authorizes the caller and streams the blob to send in
// DownloadChunkSize pieces. A row whose blob has vanished is removed and
// reported as not found.
func (s *Service) Download(ctx context.Context, caller, id uuid.UUID, send func([]byte) error) error {
	if _, err := s.Get(ctx, caller, Lookup{ID: id}); err != nil {
		return err
	}

	if !s.storage.Exists(id) {
		slog.WarnContext(ctx, "Blob missing, removing metadata", "file_id", id)
		if err := s.reconcile(ctx, id); err != nil {
			return err
		}
		return ErrNotFound.New("file %s not found on disk", id)
	}

	content, err := s.storage.Read(id)
	if err != nil {
		if ErrNotFound.Has(err) {
			return err
		}
		return ErrStorage.Wrap(err)
	}

	return stream.Pump(ctx, downloadQueueSize, func(ctx context.Context, emit func([]byte) error) error {
		for off := 0; off < len(content); off += DownloadChunkSize {
			end := min(off+DownloadChunkSize, len(content))
			if err := emit(content[off:end]); err != nil {
				return err
			}
		}
		return nil
	}, send)
}

// Get looks up a file by id or name and checks that the caller may read it.
func (s *Service) Get(ctx context.Context, caller uuid.UUID, lookup Lookup) (*File, error) {
	if lookup.ID == uuid.Nil && lookup.Name == "" {
		return nil, ErrInvalidArgument.New("either id or name is required")
	}

	tx, err := s.repo.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(ctx, tx)

	var file *File
	if lookup.ID != uuid.Nil {
		file, err = tx.FindByID(ctx, lookup.ID)
	} else {
		file, err = tx.FindByName(ctx, lookup.Name)
	}
	if err != nil {
		return nil, err
	}

	if err := authorizeRead(ctx, tx, file, caller); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return file, nil
}

// ListOwned streams every file owned by the caller to send.
func (s *Service) ListOwned(ctx context.Context, caller uuid.UUID, send func(*File) error) error {
	return s.list(ctx, send, func(ctx context.Context, tx Tx, emit func(*File) error) error {
		return tx.ListOwned(ctx, caller, emit)
	})
}

// ListShared streams every file explicitly granted to the caller by someone
// else. Public files without a grant are not included.
func (s *Service) ListShared(ctx context.Context, caller uuid.UUID, send func(*File) error) error {
	return s.list(ctx, send, func(ctx context.Context, tx Tx, emit func(*File) error) error {
		return tx.ListShared(ctx, caller, emit)
	})
}

func (s *Service) list(ctx context.Context, send func(*File) error, query func(context.Context, Tx, func(*File) error) error) error {
	tx, err := s.repo.BeginRead(ctx)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx)

	err = stream.Pump(ctx, listQueueSize, func(ctx context.Context, emit func(*File) error) error {
		return query(ctx, tx, emit)
	}, send)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Share changes the visibility of a file or grants it to more users. Only the
// owner may share.
func (s *Service) Share(ctx context.Context, caller uuid.UUID, req ShareRequest) error {
	if len(req.Grantees) == 0 && req.Visibility == nil {
		return ErrInvalidArgument.New("user_ids and visibility are both empty")
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx)

	file, err := tx.FindByID(ctx, req.FileID)
	if err != nil {
		return err
	}
	if file.OwnerID != caller {
		return ErrPermissionDenied.New("only the owner may share file %s", file.ID)
	}

	if req.Visibility != nil {
		if err := tx.SetPublic(ctx, file.ID, *req.Visibility, s.clock.Now().UTC()); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		slog.InfoContext(ctx, "File visibility changed", "file_id", file.ID, "is_public", *req.Visibility)
		return nil
	}

	for _, grantee := range req.Grantees {
		if err := tx.AddGrant(ctx, file.ID, grantee); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	slog.InfoContext(ctx, "File shared", "file_id", file.ID, "grantees", len(req.Grantees))
	return nil
}

// Delete removes a file owned by the caller. The row goes first so that a
// crash in between leaves an orphan blob rather than an unreadable row.
func (s *Service) Delete(ctx context.Context, caller, id uuid.UUID) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx)

	file, err := tx.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if file.OwnerID != caller {
		return ErrPermissionDenied.New("only the owner may delete file %s", id)
	}

	if err := tx.Delete(ctx, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := s.deleteBlob(id); err != nil {
		slog.ErrorContext(ctx, "Failed to delete blob", "error", err, "file_id", id)
		return err
	}

	slog.InfoContext(ctx, "File deleted", "file_id", id)
	return nil
}

// reconcile drops the metadata row of a file whose blob is gone. Blob
// failures are only logged since the row already says the file is gone.
func (s *Service) reconcile(ctx context.Context, id uuid.UUID) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx)

	if err := tx.Delete(ctx, id); err != nil && !ErrNotFound.Has(err) {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := s.deleteBlob(id); err != nil {
		slog.ErrorContext(ctx, "Failed to delete blob during reconciliation", "error", err, "file_id", id)
	}
	return nil
}

// deleteBlob removes the blob for id. A blob that is already gone counts as
// deleted.
func (s *Service) deleteBlob(id uuid.UUID) error {
	if err := s.storage.Delete(id); err != nil && !ErrNotFound.Has(err) {
		return ErrStorage.Wrap(err)
	}
	return nil
}

func authorizeRead(ctx context.Context, tx Tx, file *File, caller uuid.UUID) error {
	if file.ReadableBy(caller) {
		return nil
	}
	granted, err := tx.HasGrant(ctx, file.ID, caller)
	if err != nil {
		return err
	}
	if !granted {
		return ErrPermissionDenied.New("no access to file %s", file.ID)
	}
	return nil
}

func rollback(ctx context.Context, tx Tx) {
	if err := tx.Rollback(); err != nil {
		slog.ErrorContext(ctx, "Failed to roll back transaction", "error", err)
	}
}
