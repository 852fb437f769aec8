package files

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// File represents the metadata of a stored file
type File struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Size      uint32    `json:"size"`
	OwnerID   uuid.UUID `json:"owner_id"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadableBy reports whether the caller is allowed to read the file without
// consulting the grant table.
func (f *File) ReadableBy(caller uuid.UUID) bool {
	return f.OwnerID == caller || f.IsPublic
}

// Metadata is the client supplied description of an upload.
type Metadata struct {
	Name     string
	MimeType string
	Size     uint32
	IsPublic bool
}

// Frame is one message of a client-streamed upload. Either part may be nil.
type Frame struct {
	Metadata *Metadata
	Chunk    []byte
	HasChunk bool
}

// FrameReader yields upload frames in arrival order. It returns io.EOF once
// the client half-closes the stream.
type FrameReader interface {
	Recv() (*Frame, error)
}

// Lookup selects a file either by id or by its unique name.
type Lookup struct {
	ID   uuid.UUID
	Name string
}

// FileRepository opens transactions against the metadata store.
type FileRepository interface {
	// Begin opens a transaction that may write.
	Begin(ctx context.Context) (Tx, error)
	// BeginRead opens a transaction for lookups only. It must not wait
	// behind concurrent writers.
	BeginRead(ctx context.Context) (Tx, error)
}

// Tx is a single metadata transaction. Rollback after Commit is a no-op.
type Tx interface {
	Create(ctx context.Context, file *File) error
	FindByID(ctx context.Context, id uuid.UUID) (*File, error)
	FindByName(ctx context.Context, name string) (*File, error)
	ListOwned(ctx context.Context, owner uuid.UUID, fn func(*File) error) error
	ListShared(ctx context.Context, user uuid.UUID, fn func(*File) error) error
	HasGrant(ctx context.Context, fileID, userID uuid.UUID) (bool, error)
	AddGrant(ctx context.Context, fileID, userID uuid.UUID) error
	SetPublic(ctx context.Context, fileID uuid.UUID, public bool, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error

	Commit() error
	Rollback() error
}

// BlobStorage defines the interface for the physical file storage
type BlobStorage interface {
	Write(id uuid.UUID, data []byte) error
	Read(id uuid.UUID) ([]byte, error)
	Delete(id uuid.UUID) error
	Exists(id uuid.UUID) bool
}
