package rpc

import (
	"math"
	"time"

	"github.com/pavel-fokin/files-vault/internal/files"
)

// UploadMetadata describes the file being uploaded. Only the first frame of a
// CreateFile stream must carry it. Size is signed so that out of range
// values reach validation instead of failing decoding.
type UploadMetadata struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	IsPublic bool   `json:"is_public"`
}

// Chunk is a piece of upload payload.
type Chunk struct {
	Data []byte `json:"data"`
}

// UploadFrame is one message of a CreateFile stream.
type UploadFrame struct {
	Metadata *UploadMetadata `json:"metadata,omitempty"`
	Chunk    *Chunk          `json:"chunk,omitempty"`
}

// DownloadFrame is one message of a DownloadFile stream.
type DownloadFrame struct {
	Chunk []byte `json:"chunk"`
}

// FileMetadata is the wire form of a stored file.
type FileMetadata struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Size      uint32    `json:"size"`
	IsPublic  bool      `json:"is_public"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileMetadataRequest selects a file by id or by name. Exactly one must be
// set.
type FileMetadataRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// DownloadFileRequest names the file to stream.
type DownloadFileRequest struct {
	ID string `json:"id"`
}

// ShareFileRequest either sets the visibility of a file or grants it to
// UserIDs. Visibility wins when both are present.
type ShareFileRequest struct {
	FileID     string   `json:"file_id"`
	UserIDs    []string `json:"user_ids,omitempty"`
	Visibility *bool    `json:"visibility,omitempty"`
}

// DeleteFileRequest names the file to delete.
type DeleteFileRequest struct {
	ID string `json:"id"`
}

// Empty is the request of the listing calls and the response of the unary
// calls that return nothing.
type Empty struct{}

func toFileMetadata(f *files.File) *FileMetadata {
	return &FileMetadata{
		ID:        f.ID.String(),
		Name:      f.Name,
		MimeType:  f.MimeType,
		Size:      f.Size,
		IsPublic:  f.IsPublic,
		OwnerID:   f.OwnerID.String(),
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func toFrame(msg *UploadFrame) (*files.Frame, error) {
	frame := &files.Frame{}
	if msg.Metadata != nil {
		size := msg.Metadata.Size
		if size < 0 || size > math.MaxUint32 {
			return nil, files.ErrInvalidArgument.New("size %d out of range [0, %d]", size, uint32(math.MaxUint32))
		}
		frame.Metadata = &files.Metadata{
			Name:     msg.Metadata.Name,
			MimeType: msg.Metadata.MimeType,
			Size:     uint32(size),
			IsPublic: msg.Metadata.IsPublic,
		}
	}
	if msg.Chunk != nil {
		frame.Chunk = msg.Chunk.Data
		frame.HasChunk = true
	}
	return frame, nil
}
