package rpc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/pavel-fokin/files-vault/internal/auth"
	"github.com/pavel-fokin/files-vault/internal/files"
	"github.com/pavel-fokin/files-vault/internal/metrics"
)

// Server implements StorageServer on top of files.Service. It expects the
// caller identity to have been placed in the context by the auth
// interceptor.
type Server struct {
	service *files.Service
	metrics *metrics.Metrics
}

var _ StorageServer = (*Server)(nil)

// NewServer creates a StorageServer backed by service that records
// transfer sizes in m.
func NewServer(service *files.Service, m *metrics.Metrics) *Server {
	return &Server{service: service, metrics: m}
}

// uploadReader adapts a CreateFile stream to files.FrameReader.
type uploadReader struct {
	stream grpc.ClientStreamingServer[UploadFrame, FileMetadata]
}

func (r uploadReader) Recv() (*files.Frame, error) {
	msg, err := r.stream.Recv()
	if err != nil {
		return nil, err
	}
	return toFrame(msg)
}

func (s *Server) CreateFile(stream grpc.ClientStreamingServer[UploadFrame, FileMetadata]) error {
	ctx := stream.Context()
	caller, err := auth.Caller(ctx)
	if err != nil {
		return err
	}

	file, err := s.service.Create(ctx, caller, uploadReader{stream: stream})
	if err != nil {
		return err
	}
	s.metrics.UploadedBytes.Add(float64(file.Size))

	return stream.SendAndClose(toFileMetadata(file))
}

func (s *Server) DownloadFile(req *DownloadFileRequest, stream grpc.ServerStreamingServer[DownloadFrame]) error {
	ctx := stream.Context()
	caller, err := auth.Caller(ctx)
	if err != nil {
		return err
	}
	id, err := parseID("id", req.ID)
	if err != nil {
		return err
	}

	return s.service.Download(ctx, caller, id, func(chunk []byte) error {
		if err := stream.Send(&DownloadFrame{Chunk: chunk}); err != nil {
			return err
		}
		s.metrics.DownloadedBytes.Add(float64(len(chunk)))
		return nil
	})
}

func (s *Server) ListOwnedFiles(_ *Empty, stream grpc.ServerStreamingServer[FileMetadata]) error {
	return s.listFiles(stream, s.service.ListOwned)
}

func (s *Server) ListSharedFiles(_ *Empty, stream grpc.ServerStreamingServer[FileMetadata]) error {
	return s.listFiles(stream, s.service.ListShared)
}

func (s *Server) listFiles(stream grpc.ServerStreamingServer[FileMetadata], list func(context.Context, uuid.UUID, func(*files.File) error) error) error {
	ctx := stream.Context()
	caller, err := auth.Caller(ctx)
	if err != nil {
		return err
	}

	return list(ctx, caller, func(f *files.File) error {
		return stream.Send(toFileMetadata(f))
	})
}

func (s *Server) GetFileMetadata(ctx context.Context, req *FileMetadataRequest) (*FileMetadata, error) {
	caller, err := auth.Caller(ctx)
	if err != nil {
		return nil, err
	}

	var lookup files.Lookup
	switch {
	case req.ID != "" && req.Name != "":
		return nil, files.ErrInvalidArgument.New("only one of id and name may be set")
	case req.ID != "":
		if lookup.ID, err = parseID("id", req.ID); err != nil {
			return nil, err
		}
	default:
		lookup.Name = req.Name
	}

	file, err := s.service.Get(ctx, caller, lookup)
	if err != nil {
		return nil, err
	}
	return toFileMetadata(file), nil
}

func (s *Server) ShareFile(ctx context.Context, req *ShareFileRequest) (*Empty, error) {
	caller, err := auth.Caller(ctx)
	if err != nil {
		return nil, err
	}
	fileID, err := parseID("file_id", req.FileID)
	if err != nil {
		return nil, err
	}

	grantees := make([]uuid.UUID, 0, len(req.UserIDs))
	for _, raw := range req.UserIDs {
		id, err := parseID("user_ids", raw)
		if err != nil {
			return nil, err
		}
		grantees = append(grantees, id)
	}

	err = s.service.Share(ctx, caller, files.ShareRequest{
		FileID:     fileID,
		Grantees:   grantees,
		Visibility: req.Visibility,
	})
	if err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) DeleteFile(ctx context.Context, req *DeleteFileRequest) (*Empty, error) {
	caller, err := auth.Caller(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", req.ID)
	if err != nil {
		return nil, err
	}

	if err := s.service.Delete(ctx, caller, id); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, files.ErrInvalidArgument.New("%s is required", field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, files.ErrInvalidArgument.New("malformed %s %q", field, raw)
	}
	return id, nil
}
