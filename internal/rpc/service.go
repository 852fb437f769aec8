// Package rpc exposes the file service over gRPC.
//
// The service descriptor and client are written by hand; messages are plain
// Go structs encoded with the json codec registered by this package.
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "filesvault.v1.StorageService"

const (
	createFileMethod      = "/" + ServiceName + "/CreateFile"
	downloadFileMethod    = "/" + ServiceName + "/DownloadFile"
	listOwnedFilesMethod  = "/" + ServiceName + "/ListOwnedFiles"
	listSharedFilesMethod = "/" + ServiceName + "/ListSharedFiles"
	getFileMetadataMethod = "/" + ServiceName + "/GetFileMetadata"
	shareFileMethod       = "/" + ServiceName + "/ShareFile"
	deleteFileMethod      = "/" + ServiceName + "/DeleteFile"
)

// StorageServer is the server API of StorageService.
type StorageServer interface {
	CreateFile(grpc.ClientStreamingServer[UploadFrame, FileMetadata]) error
	DownloadFile(*DownloadFileRequest, grpc.ServerStreamingServer[DownloadFrame]) error
	ListOwnedFiles(*Empty, grpc.ServerStreamingServer[FileMetadata]) error
	ListSharedFiles(*Empty, grpc.ServerStreamingServer[FileMetadata]) error
	GetFileMetadata(context.Context, *FileMetadataRequest) (*FileMetadata, error)
	ShareFile(context.Context, *ShareFileRequest) (*Empty, error)
	DeleteFile(context.Context, *DeleteFileRequest) (*Empty, error)
}

// RegisterStorageServer registers srv on s.
func RegisterStorageServer(s grpc.ServiceRegistrar, srv StorageServer) {
	s.RegisterService(&StorageServiceDesc, srv)
}

// StorageServiceDesc describes StorageService. The order of Streams is
// relied on by StorageClient.
var StorageServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetFileMetadata", Handler: getFileMetadataHandler},
		{MethodName: "ShareFile", Handler: shareFileHandler},
		{MethodName: "DeleteFile", Handler: deleteFileHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "CreateFile", Handler: createFileHandler, ClientStreams: true},
		{StreamName: "DownloadFile", Handler: downloadFileHandler, ServerStreams: true},
		{StreamName: "ListOwnedFiles", Handler: listOwnedFilesHandler, ServerStreams: true},
		{StreamName: "ListSharedFiles", Handler: listSharedFilesHandler, ServerStreams: true},
	},
}

func createFileHandler(srv any, stream grpc.ServerStream) error {
	return srv.(StorageServer).CreateFile(&grpc.GenericServerStream[UploadFrame, FileMetadata]{ServerStream: stream})
}

func downloadFileHandler(srv any, stream grpc.ServerStream) error {
	in := new(DownloadFileRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(StorageServer).DownloadFile(in, &grpc.GenericServerStream[DownloadFileRequest, DownloadFrame]{ServerStream: stream})
}

func listOwnedFilesHandler(srv any, stream grpc.ServerStream) error {
	in := new(Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(StorageServer).ListOwnedFiles(in, &grpc.GenericServerStream[Empty, FileMetadata]{ServerStream: stream})
}

func listSharedFilesHandler(srv any, stream grpc.ServerStream) error {
	in := new(Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(StorageServer).ListSharedFiles(in, &grpc.GenericServerStream[Empty, FileMetadata]{ServerStream: stream})
}

func getFileMetadataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FileMetadataRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageServer).GetFileMetadata(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getFileMetadataMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorageServer).GetFileMetadata(ctx, req.(*FileMetadataRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func shareFileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ShareFileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageServer).ShareFile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: shareFileMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorageServer).ShareFile(ctx, req.(*ShareFileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteFileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeleteFileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorageServer).DeleteFile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deleteFileMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StorageServer).DeleteFile(ctx, req.(*DeleteFileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// StorageClient is the client API of StorageService. Every call uses the
// json codec.
type StorageClient struct {
	cc grpc.ClientConnInterface
}

// NewStorageClient creates a client for StorageService on cc.
func NewStorageClient(cc grpc.ClientConnInterface) *StorageClient {
	return &StorageClient{cc: cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{CallOption()}, opts...)
}

func (c *StorageClient) CreateFile(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[UploadFrame, FileMetadata], error) {
	stream, err := c.cc.NewStream(ctx, &StorageServiceDesc.Streams[0], createFileMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[UploadFrame, FileMetadata]{ClientStream: stream}, nil
}

func (c *StorageClient) DownloadFile(ctx context.Context, in *DownloadFileRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[DownloadFrame], error) {
	return openServerStream[DownloadFileRequest, DownloadFrame](ctx, c.cc, 1, downloadFileMethod, in, opts)
}

func (c *StorageClient) ListOwnedFiles(ctx context.Context, in *Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[FileMetadata], error) {
	return openServerStream[Empty, FileMetadata](ctx, c.cc, 2, listOwnedFilesMethod, in, opts)
}

func (c *StorageClient) ListSharedFiles(ctx context.Context, in *Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[FileMetadata], error) {
	return openServerStream[Empty, FileMetadata](ctx, c.cc, 3, listSharedFilesMethod, in, opts)
}

func openServerStream[Req, Res any](ctx context.Context, cc grpc.ClientConnInterface, index int, method string, in *Req, opts []grpc.CallOption) (grpc.ServerStreamingClient[Res], error) {
	stream, err := cc.NewStream(ctx, &StorageServiceDesc.Streams[index], method, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Res]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *StorageClient) GetFileMetadata(ctx context.Context, in *FileMetadataRequest, opts ...grpc.CallOption) (*FileMetadata, error) {
	out := new(FileMetadata)
	if err := c.cc.Invoke(ctx, getFileMetadataMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorageClient) ShareFile(ctx context.Context, in *ShareFileRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, shareFileMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorageClient) DeleteFile(ctx context.Context, in *DeleteFileRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, deleteFileMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
