package cerr

import (
	"errors"
	"fmt"

	"github.com/kazz187/agentdash/pkg/storage"
)

// WrapStorageReadError maps a failed read of target (e.g. "task") to NotFound
// or Internal.
func WrapStorageReadError(target string, err error) error {
	return wrapStorage("read", target, err)
}

// WrapStorageWriteError reports a rejected write.
func WrapStorageWriteError(target string, err error) error {
	return NewError(Internal, "server error", fmt.Errorf("write %s: %w", target, err))
}

func WrapStorageDeleteError(target string, err error) error {
	return wrapStorage("delete", target, err)
}

func wrapStorage(op, target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, target+" not found", err)
	}
	return NewError(Internal, "server error", fmt.Errorf("%s %s: %w", op, target, err))
}

// NewOwnershipError is returned by repositories when a write targets a record
// owned by somebody else. Reads of foreign records report NotFound instead.
func NewOwnershipError(target string) error {
	return NewError(PermissionDenied, target+" belongs to another owner", storage.ErrOwnerMismatch)
}
