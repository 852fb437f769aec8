package files

import "github.com/zeebo/errs"

// Error classes shared by the storage layers. The rpc package maps each of
// them onto a status code.
var (
	ErrInvalidArgument  = errs.Class("invalid argument")
	ErrPermissionDenied = errs.Class("permission denied")
	ErrNotFound         = errs.Class("not found")
	ErrAlreadyExists    = errs.Class("already exists")
	ErrDataLoss         = errs.Class("data loss")
	ErrStorage          = errs.Class("storage")
)
