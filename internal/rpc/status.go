package rpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pavel-fokin/files-vault/internal/auth"
	"github.com/pavel-fokin/files-vault/internal/files"
)

// toStatus converts a handler error into the status sent to the client.
// Anything unclassified becomes Internal; its cause is logged and never
// leaves the process.
func toStatus(ctx context.Context, err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}

	var code codes.Code
	switch {
	case auth.Error.Has(err):
		code = codes.Unauthenticated
	case files.ErrPermissionDenied.Has(err):
		code = codes.PermissionDenied
	case files.ErrInvalidArgument.Has(err):
		code = codes.InvalidArgument
	case files.ErrNotFound.Has(err):
		code = codes.NotFound
	case files.ErrAlreadyExists.Has(err):
		code = codes.AlreadyExists
	case files.ErrDataLoss.Has(err):
		code = codes.DataLoss
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		if st, ok := status.FromError(err); ok {
			return st
		}
		slog.ErrorContext(ctx, "Request failed", "error", err)
		return status.New(codes.Internal, "internal error")
	}

	return status.New(code, err.Error())
}
