package store

import (
	"github.com/jimyag/vmhost/pkg/apierror"
)

// ErrVMNotFound VM 不存在
func ErrVMNotFound(id string) error {
	return apierror.Errorf(apierror.ErrNotFound, "vm %s not found", id)
}

// ErrVMExists VM ID 已存在
func ErrVMExists(id string) error {
	return apierror.Errorf(apierror.ErrConflict, "vm %s already exists", id)
}

// ErrSnapshotNotFound 快照不存在
func ErrSnapshotNotFound(id string) error {
	return apierror.Errorf(apierror.ErrNotFound, "snapshot %s not found", id)
}

// ErrSnapshotExists 快照 ID 已存在
func ErrSnapshotExists(id string) error {
	return apierror.Errorf(apierror.ErrConflict, "snapshot %s already exists", id)
}
