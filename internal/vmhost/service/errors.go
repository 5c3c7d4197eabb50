package service

import (
	"errors"
	"slices"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
	"github.com/jimyag/vmhost/pkg/apierror"
)

// wrapStoreError store 返回的 apierror 原样透传，其他错误包装为 InternalError
func wrapStoreError(err error, message string) error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return err
	}
	return apierror.WrapError(apierror.ErrInternal, message, err)
}

func inProgress(id string) error {
	return apierror.WrapError(apierror.ErrOperationInProgress,
		"operation already in progress on vm "+id, nil)
}

func illegalTransition(action entity.Action, vm *entity.VM) error {
	return apierror.Errorf(apierror.ErrConflict, "cannot %s vm %s in status %s", action, vm.ID, vm.Status)
}

func statusChanged(id string, want, got entity.Status) error {
	return apierror.Errorf(apierror.ErrConflict, "vm %s status changed from %s to %s concurrently", id, want, got)
}

func isConfigMutable(st entity.Status) bool {
	return slices.Contains(configMutableStatuses, st)
}

// failureReason 写入 LastError 的失败原因
func failureReason(err error) string {
	return apierror.From(err).Message
}
